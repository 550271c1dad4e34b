package ledger

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError is returned by the HTTP transport when the RPC endpoint
// answers 429 Too Many Requests. The JSON-RPC layer never sees the body.
type StatusError struct {
	StatusCode int
	RetryAfter string
}

func (e *StatusError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("rpc endpoint returned %d %s (retry after %s)", e.StatusCode, http.StatusText(e.StatusCode), e.RetryAfter)
	}
	return fmt.Sprintf("rpc endpoint returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

type throttleTransport struct {
	next http.RoundTripper
}

func (t throttleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
	}
	return resp, nil
}

// NewHTTPClient returns the client used under the RPC layer.
func NewHTTPClient(timeout time.Duration) *http.Client {
	base := http.DefaultTransport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		base = t.Clone()
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: throttleTransport{next: base},
	}
}
