package aiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/cv-engine/config"
	apperrors "github.com/cvforge/cv-engine/internal/errors"
)

func testConfig(endpoint string) config.AIConfig {
	return config.AIConfig{
		Endpoint:          endpoint,
		Model:             "scorer-v1",
		APIKey:            "test-key",
		ResponsePath:      "output",
		RequestsPerSecond: 100,
		Burst:             10,
		Timeout:           5 * time.Second,
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(Options{Config: config.AIConfig{}})
	require.ErrorIs(t, err, ErrEndpointRequired)
}

func TestNew_InvalidResponsePath(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.ResponsePath = "output["
	_, err := New(Options{Config: cfg})
	require.Error(t, err)
}

func TestEvaluate_SendsRequestAndExtractsObject(t *testing.T) {
	var got evaluateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp-1","output":{"criteria":[{"key":"go","score":4}]}}`))
	}))
	defer srv.Close()

	client, err := New(Options{Config: testConfig(srv.URL)})
	require.NoError(t, err)

	out, err := client.Evaluate(context.Background(), "score this", json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)

	assert.JSONEq(t, `{"criteria":[{"key":"go","score":4}]}`, string(out))
	assert.Equal(t, "scorer-v1", got.Model)
	assert.Equal(t, "score this", got.Prompt)
	assert.JSONEq(t, `{"type":"object"}`, string(got.Schema))
}

func TestEvaluate_TextResultIsParsedAsJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "plain json text",
			body: `{"output":"{\"sections\":{}}"}`,
			want: `{"sections":{}}`,
		},
		{
			name: "fenced json text",
			body: `{"output":"` + "```json\\n{\\\"a\\\":1}\\n```" + `"}`,
			want: `{"a":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := New(Options{Config: testConfig(srv.URL)})
			require.NoError(t, err)

			out, err := client.Evaluate(context.Background(), "p", nil)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestEvaluate_CustomResponsePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.ResponsePath = "choices[0].message.content"
	client, err := New(Options{Config: cfg})
	require.NoError(t, err)

	out, err := client.Evaluate(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
}

func TestEvaluate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode apperrors.ErrorCode
	}{
		{name: "server error", status: http.StatusBadGateway, body: `upstream down`, wantCode: apperrors.ErrCodeAIProvider},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, wantCode: apperrors.ErrCodeAIProvider},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantCode: apperrors.ErrCodeAIResponse},
		{name: "path selects nothing", status: http.StatusOK, body: `{"result":{}}`, wantCode: apperrors.ErrCodeAIResponse},
		{name: "text is not json", status: http.StatusOK, body: `{"output":"I cannot help"}`, wantCode: apperrors.ErrCodeAIResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := New(Options{Config: testConfig(srv.URL)})
			require.NoError(t, err)

			_, err = client.Evaluate(context.Background(), "p", nil)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestEvaluate_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := New(Options{Config: testConfig(url)})
	require.NoError(t, err)

	_, err = client.Evaluate(context.Background(), "p", nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAIProvider))
}

func TestEvaluate_ContextCanceledWhileWaitingForLimiter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"output":{}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 1
	client, err := New(Options{Config: cfg})
	require.NoError(t, err)

	_, err = client.Evaluate(context.Background(), "first", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Evaluate(ctx, "second", nil)
	require.Error(t, err)
	assert.False(t, apperrors.Is(err, apperrors.ErrCodeAIProvider))
	assert.EqualValues(t, 1, calls.Load())
}

func TestEvaluate_ClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/evaluate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"output":{"ok":true}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(srv.URL + "/evaluate")
	cfg.APIKey = ""
	cfg.TokenURL = srv.URL + "/token"
	cfg.ClientID = "cv-engine"
	cfg.ClientSecret = "secret"
	client, err := New(Options{Config: cfg})
	require.NoError(t, err)

	for range 2 {
		out, err := client.Evaluate(context.Background(), "p", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(out))
	}
	assert.EqualValues(t, 1, tokenCalls.Load(), "token should be reused")
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence("  {\"a\":1} "))
	assert.Equal(t, `[1]`, stripFence("```\n[1]\n```"))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet([]byte("  short \n")))

	// 255 ASCII bytes followed by a two-byte rune straddling the limit.
	long := strings.Repeat("a", 255) + "é" + strings.Repeat("b", 10)
	got := snippet([]byte(long))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 255)+"...", got)

	exact := strings.Repeat("é", 200)
	assert.True(t, utf8.ValidString(snippet([]byte(exact))))
}
