package correction

import "context"

// Policy is a deterministic corrector: it retries retryable failures and
// aborts everything else. It is the default when no reasoning collaborator
// is wired in.
type Policy struct{}

// Correct implements Corrector.
func (Policy) Correct(_ context.Context, req Request) (Response, error) {
	if req.Error.Retryable {
		return Response{Action: ActionRetry, Reason: "retryable " + string(req.Error.Kind) + " failure"}, nil
	}
	return Response{Action: ActionAbort, Reason: "non-retryable " + string(req.Error.Kind) + " failure"}, nil
}

// AbortAll is a corrector that aborts every failed node.
var AbortAll = Func(func(context.Context, Request) (Response, error) {
	return Response{Action: ActionAbort, Reason: "corrections disabled"}, nil
})
