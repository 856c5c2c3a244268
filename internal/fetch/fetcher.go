package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/telemetry"
)

// ErrStale reports that a newer start superseded the request while it was in flight.
var ErrStale = errs.New("fetch", errs.CodeStale, errs.WithMessage("request superseded"))

// Current reports whether the request that owns a fetch is still the latest for its slot.
type Current func() bool

// Policy bounds one fetch: per-attempt timeout, retries after the first attempt and the constant delay between attempts.
type Policy struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// Fetcher issues ad-decision requests with retry.
type Fetcher struct {
	transport Transport
	policy    Policy
	logger    *log.Logger

	duration metric.Float64Histogram
	attempts metric.Int64Histogram
	results  metric.Int64Counter
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFetcher builds a fetcher over transport.
func NewFetcher(transport Transport, policy Policy, opts ...Option) *Fetcher {
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	f := &Fetcher{
		transport: transport,
		policy:    policy,
		logger:    log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	meter := otel.Meter("fetch")
	f.duration, _ = meter.Float64Histogram("fetch.duration",
		metric.WithDescription("Ad-decision fetch latency including retries"),
		metric.WithUnit("ms"))
	f.attempts, _ = meter.Int64Histogram("fetch.attempts",
		metric.WithDescription("Attempts made per ad-decision fetch"),
		metric.WithUnit("{attempt}"))
	f.results, _ = meter.Int64Counter("fetch.results",
		metric.WithDescription("Ad-decision fetch outcomes"),
		metric.WithUnit("{fetch}"))
	return f
}

// Fetch retrieves and decodes the ad decision at url. A nil Ad with a nil error means the server had no ad.
// Staleness is checked before every attempt and after every response; a stale fetch returns ErrStale without retrying.
func (f *Fetcher) Fetch(ctx context.Context, url string, welcome bool, current Current) (*Ad, error) {
	started := time.Now()
	attempt := 0

	operation := func() (*Ad, error) {
		attempt++
		if current != nil && !current() {
			return nil, backoff.Permanent(ErrStale)
		}
		resp, err := f.attempt(ctx, url)
		if current != nil && !current() {
			return nil, backoff.Permanent(ErrStale)
		}
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, errs.New("fetch", errs.CodeTransport, errs.WithHTTP(resp.Status),
				errs.WithMessage(fmt.Sprintf("unexpected status %d", resp.Status)))
		}
		ad, err := Decode(resp.Body, welcome)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return ad, nil
	}

	notify := func(err error, next time.Duration) {
		f.logger.Printf("fetch attempt %d/%d failed, retrying in %s: %v", attempt, f.policy.Retries+1, next, err)
	}

	ad, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.policy.Backoff)),
		backoff.WithMaxTries(uint(f.policy.Retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	f.record(ctx, started, attempt, err)
	if err == nil {
		return ad, nil
	}
	if errors.Is(err, ErrStale) {
		return nil, ErrStale
	}
	if errs.Is(err, errs.CodeParse) {
		return nil, err
	}
	code := errs.CodeTransport
	if errs.Is(err, errs.CodeTimeout) {
		code = errs.CodeTimeout
	}
	if ctx.Err() != nil {
		code = errs.CodeAborted
	}
	return nil, errs.New("fetch", code,
		errs.WithMessage(fmt.Sprintf("ad request failed after %d attempt(s)", attempt)),
		errs.WithField("attempts", fmt.Sprint(attempt)),
		errs.WithCause(err))
}

// Document retrieves a creative document such as VAST markup in a single attempt bounded by timeout.
func (f *Fetcher) Document(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := f.transport.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, errs.New("fetch/document", errs.CodeTransport, errs.WithHTTP(resp.Status),
			errs.WithMessage(fmt.Sprintf("unexpected status %d", resp.Status)))
	}
	return resp.Body, nil
}

func (f *Fetcher) attempt(ctx context.Context, url string) (Response, error) {
	if f.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.policy.Timeout)
		defer cancel()
	}
	return f.transport.Get(ctx, url)
}

func (f *Fetcher) record(ctx context.Context, started time.Time, attempts int, err error) {
	result := telemetry.ResultSuccess
	switch {
	case err == nil:
	case errors.Is(err, ErrStale):
		result = telemetry.ResultStale
	case errs.Is(err, errs.CodeTimeout):
		result = telemetry.ResultTimeout
	default:
		result = telemetry.ResultError
	}
	attrs := metric.WithAttributes(telemetry.OperationResultAttributes(telemetry.Environment(), "fetch", result)...)
	ctx = context.WithoutCancel(ctx)
	if f.duration != nil {
		f.duration.Record(ctx, float64(time.Since(started).Microseconds())/1000.0, attrs)
	}
	if f.attempts != nil {
		f.attempts.Record(ctx, int64(attempts), attrs)
	}
	if f.results != nil {
		f.results.Add(ctx, 1, attrs)
	}
}
