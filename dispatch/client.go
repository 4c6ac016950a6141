package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultClient is the net/http-backed reference HTTPClient.
type defaultClient struct {
	hc *http.Client
}

// NewDefaultClient builds an HTTPClient backed by a net/http.Client with
// a conservative baseline timeout; per-request Timeout (when set)
// overrides it via a derived context.
func NewDefaultClient() HTTPClient {
	return &defaultClient{hc: &http.Client{Timeout: 30 * time.Second}}
}

func (c *defaultClient) Do(ctx context.Context, req *Request) (*RawResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}

	return &RawResponse{StatusCode: resp.StatusCode, Headers: headers, Body: data}, nil
}
