// Package reasoning defines the port for the external reasoning backend.
package reasoning

import "context"

// Request is one judgment request sent to the backend.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Response carries the backend's raw reply. Content may be wrapped in
// markdown code fences; callers are responsible for extraction and parsing.
type Response struct {
	Content   string
	TokensIn  int
	TokensOut int
}

// Completer is the optional capability a pipeline stage uses to delegate a
// judgment call. Stages hold a Completer value that may be nil: a nil
// Completer, a call error, a timeout, or an unparseable reply all mean the
// same thing: the stage runs its deterministic fallback rules for this
// invocation.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
