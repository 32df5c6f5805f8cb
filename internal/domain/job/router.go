package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cvforge/cv-engine/internal/domain/model"
	apperrors "github.com/cvforge/cv-engine/internal/errors"
)

var (
	// ErrHandlerNotFound is returned by Resolve when no handler is registered for a job type.
	ErrHandlerNotFound = errors.New("no handler registered for job type")
	// ErrDuplicateHandler is returned by NewRouter when two handlers claim the same type.
	ErrDuplicateHandler = errors.New("duplicate handler for job type")
	// ErrInvalidHandler is returned by NewRouter for nil handlers or unknown job types.
	ErrInvalidHandler = errors.New("invalid job handler")
)

// Handler executes the work of a single job type. Handlers never change the
// job's status; they report the outcome and the worker applies it.
type Handler interface {
	Type() model.JobType
	Handle(ctx context.Context, job *model.Job) Result
}

// Result is the outcome of one handler invocation.
type Result struct {
	Succeeded    bool
	Output       json.RawMessage
	ErrorCode    string
	ErrorMessage string
}

// Succeeded builds a successful result.
func Succeeded(output json.RawMessage) Result {
	return Result{Succeeded: true, Output: output}
}

// SucceededJSON marshals v into a successful result.
func SucceededJSON(v any) Result {
	out, err := json.Marshal(v)
	if err != nil {
		return Failed(apperrors.ErrCodeInternal, fmt.Sprintf("marshal output: %v", err))
	}
	return Succeeded(out)
}

// Failed builds a failed result with a stable code.
func Failed(code apperrors.ErrorCode, message string) Result {
	return Result{ErrorCode: string(code), ErrorMessage: message}
}

// FailedFromError converts err into a failed result. AppError codes are kept;
// context cancellation maps to job.canceled and anything else to job.unhandled.
func FailedFromError(err error) Result {
	if err == nil {
		return Failed(apperrors.ErrCodeUnhandled, "handler failed without an error")
	}
	if code := apperrors.GetCode(err); code != "" {
		return Failed(code, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return Failed(apperrors.ErrCodeJobCanceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Failed(apperrors.ErrCodeTimeout, err.Error())
	}
	return Failed(apperrors.ErrCodeUnhandled, err.Error())
}

// Router maps job types to handlers. It is immutable after construction.
type Router struct {
	handlers map[model.JobType]Handler
}

// NewRouter indexes handlers by type.
func NewRouter(handlers ...Handler) (*Router, error) {
	r := &Router{handlers: make(map[model.JobType]Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("%w: nil handler", ErrInvalidHandler)
		}
		jt := h.Type()
		if !jt.Valid() {
			return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidHandler, jt)
		}
		if _, exists := r.handlers[jt]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHandler, jt)
		}
		r.handlers[jt] = h
	}
	return r, nil
}

// Resolve returns the handler for jobType or an error wrapping ErrHandlerNotFound.
func (r *Router) Resolve(jobType model.JobType) (Handler, error) {
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, jobType)
	}
	return h, nil
}

// Types returns the registered job types.
func (r *Router) Types() []model.JobType {
	types := make([]model.JobType, 0, len(r.handlers))
	for jt := range r.handlers {
		types = append(types, jt)
	}
	return types
}
