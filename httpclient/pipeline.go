package httpclient

import "net/http"

// Next sends a request to the rest of the pipeline.
type Next func(*http.Request) (*http.Response, error)

// Stage is one step of an outbound pipeline. It may change the request, call
// next any number of times and inspect or replace the response.
type Stage interface {
	Handle(req *http.Request, next Next) (*http.Response, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(req *http.Request, next Next) (*http.Response, error)

// Handle calls f.
func (f StageFunc) Handle(req *http.Request, next Next) (*http.Response, error) {
	return f(req, next)
}

// Chain composes stages in front of base. The first stage is the outermost:
// it sees the request first and the response last. A nil base means
// http.DefaultTransport.
func Chain(base http.RoundTripper, stages ...Stage) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &chain{base: base, stages: append([]Stage(nil), stages...)}
}

type chain struct {
	base   http.RoundTripper
	stages []Stage
}

func (c *chain) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.handle(0, req)
}

func (c *chain) handle(i int, req *http.Request) (*http.Response, error) {
	if i == len(c.stages) {
		return c.base.RoundTrip(req)
	}
	return c.stages[i].Handle(req, func(r *http.Request) (*http.Response, error) {
		return c.handle(i+1, r)
	})
}

// SetHeader returns a stage that sets a request header on a copy of each
// request.
func SetHeader(key, value string) Stage {
	return StageFunc(func(req *http.Request, next Next) (*http.Response, error) {
		out := req.Clone(req.Context())
		out.Header.Set(key, value)
		return next(out)
	})
}
