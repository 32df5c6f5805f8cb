package scoring

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/cv-engine/internal/domain/model"
)

func TestCanonicalize(t *testing.T) {
	got, err := Canonicalize([]byte(`{ "b": [1, 2.50, {"z": true, "a": null}], "a": "x<y" }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x<y","b":[1,2.50,{"a":null,"z":true}]}`, string(got))
}

func TestHashJSON_KeyOrderIndependent(t *testing.T) {
	h1, err := HashJSON([]byte(`{"name":"Ada","skills":["go","sql"],"meta":{"x":1,"y":2}}`))
	require.NoError(t, err)
	h2, err := HashJSON([]byte("{\n  \"meta\": {\"y\": 2, \"x\": 1},\n  \"skills\": [\"go\", \"sql\"],\n  \"name\": \"Ada\"\n}"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashJSON_DetectsChanges(t *testing.T) {
	base, err := HashJSON([]byte(`{"skills":["go","sql"]}`))
	require.NoError(t, err)

	tests := map[string]string{
		"array order matters": `{"skills":["sql","go"]}`,
		"value change":        `{"skills":["go","postgres"]}`,
		"number vs string":    `{"skills":["go","sql"],"n":"1"}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			h, err := HashJSON([]byte(doc))
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}
}

func TestHashJSON_Errors(t *testing.T) {
	_, err := HashJSON(nil)
	require.ErrorIs(t, err, ErrEmptyDocument)

	_, err = HashJSON([]byte(`{"a":`))
	require.Error(t, err)

	_, err = HashJSON([]byte(`{"a":1} {"b":2}`))
	require.Error(t, err)
}

func TestHash_StructAndRawAgree(t *testing.T) {
	rubric := model.SectionRubric{
		Section:  model.SectionSkills,
		Criteria: []model.Criterion{{Key: "depth", Description: "Depth of expertise", Weight: 1}},
	}
	fromStruct, err := Hash(rubric)
	require.NoError(t, err)

	raw, err := json.Marshal(rubric)
	require.NoError(t, err)
	fromRaw, err := Hash(json.RawMessage(raw))
	require.NoError(t, err)

	assert.Equal(t, fromStruct, fromRaw)

	_, err = Hash(make(chan int))
	assert.Error(t, err)
}
