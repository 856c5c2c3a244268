package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coachpo/adslot/errs"
)

const maxBodyBytes = 4 << 20

// Response is the outcome of a single transport request.
type Response struct {
	Status int
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Transport performs one GET. Deadlines are carried by ctx.
type Transport interface {
	Get(ctx context.Context, url string) (Response, error)
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport using client, or a default client when nil.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{Client: client}
}

func (t *HTTPTransport) Get(ctx context.Context, url string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, errs.New("fetch/transport", errs.CodeInvalid, errs.WithCause(err))
	}
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, */*;q=0.8")
	resp, err := t.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, errs.New("fetch/transport", errs.CodeTimeout, errs.WithCause(err))
		}
		return Response{}, errs.New("fetch/transport", errs.CodeTransport, errs.WithCause(err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Response{}, errs.New("fetch/transport", errs.CodeTransport,
			errs.WithHTTP(resp.StatusCode), errs.WithCause(fmt.Errorf("read body: %w", err)))
	}
	if len(body) > maxBodyBytes {
		return Response{}, errs.New("fetch/transport", errs.CodeTransport, errs.WithHTTP(resp.StatusCode),
			errs.WithMessage(fmt.Sprintf("response too large (over %d bytes)", maxBodyBytes)))
	}
	return Response{Status: resp.StatusCode, Body: body}, nil
}
