/*
Package client provides a Go client for the Tusk scheduler API.

The client is used by the tusk CLI and by the worker runtime. Every method
maps gRPC status codes back onto the error taxonomy in pkg/types, so callers
test failures with errors.Is:

	c, err := client.NewClient("127.0.0.1:7070")
	if err != nil {
		return err
	}
	defer c.Close()

	job, err := c.SubmitJob(ctx, types.QuerySpec{Text: "select 1"}, "alice")
	if errors.Is(err, types.ErrValidation) {
		// malformed query, do not retry
	}

Unary calls without a deadline are bounded by DefaultTimeout. Streaming calls
(FetchResult, WatchJob, ReportCompletion and the worker Session) run until the
stream ends or the caller's context is cancelled.

Addresses of the form unix:///path/to/tusk.sock reach the scheduler's
read-only local socket.
*/
package client
