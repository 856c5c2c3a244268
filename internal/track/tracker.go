package track

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/coachpo/adslot/internal/clock"
	"github.com/coachpo/adslot/internal/telemetry"
)

const defaultBeaconTimeout = 5 * time.Second

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Endpoint identifies the central tracking endpoint and the fixed parameters sent with every hit.
type Endpoint struct {
	URL      string
	TenantID string
	StreamID string
	Position string
}

// Tracker fires beacons asynchronously. Failures are logged and never reported to callers.
type Tracker struct {
	client   Doer
	endpoint Endpoint
	limiter  *rate.Limiter
	clock    clock.Clock
	logger   *log.Logger
	timeout  time.Duration

	journal  Journal
	deviceID string

	mu     sync.Mutex
	fired  map[dedupKey]struct{}
	closed bool
	wg     conc.WaitGroup

	sentCounter    metric.Int64Counter
	droppedCounter metric.Int64Counter
}

type dedupKey struct {
	typ   Type
	slot  string
	token uint64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClient overrides the HTTP client.
func WithClient(client Doer) Option {
	return func(t *Tracker) {
		if client != nil {
			t.client = client
		}
	}
}

// WithEndpoint enables the central tracking endpoint.
func WithEndpoint(endpoint Endpoint) Option {
	return func(t *Tracker) {
		endpoint.URL = strings.TrimSpace(endpoint.URL)
		t.endpoint = endpoint
	}
}

// WithRateLimit bounds outgoing beacon requests per second with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *Tracker) {
		if perSecond > 0 && burst > 0 {
			t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithClock overrides the time source used for hit timestamps.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets the logger used for beacon failures.
func WithLogger(logger *log.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithJournal records every fired beacon for the given device.
func WithJournal(journal Journal, deviceID string) Option {
	return func(t *Tracker) {
		t.journal = journal
		t.deviceID = deviceID
	}
}

// NewTracker constructs a tracker. Without options it only fires explicit pixel URLs.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		client:  &http.Client{Timeout: defaultBeaconTimeout},
		limiter: rate.NewLimiter(rate.Inf, 0),
		clock:   clock.Real(),
		logger:  log.New(io.Discard, "", 0),
		timeout: defaultBeaconTimeout,
		fired:   make(map[dedupKey]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	meter := otel.Meter("track")
	t.sentCounter, _ = meter.Int64Counter("track.beacons.sent",
		metric.WithDescription("Number of tracking requests issued"),
		metric.WithUnit("{request}"))
	t.droppedCounter, _ = meter.Int64Counter("track.beacons.dropped",
		metric.WithDescription("Number of tracking requests dropped by the rate limiter or after close"),
		metric.WithUnit("{request}"))
	return t
}

// Fire sends the beacon's pixel URLs and, when configured, a central endpoint hit. It never blocks on the network.
func (t *Tracker) Fire(b Beacon) {
	targets := make([]string, 0, len(b.URLs)+1)
	for _, raw := range b.URLs {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			targets = append(targets, trimmed)
		}
	}
	if central := t.centralURL(b); central != "" {
		targets = append(targets, central)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, target := range targets {
		if t.closed || !t.limiter.Allow() {
			t.count(t.droppedCounter, b.Type, telemetry.ResultDropped)
			continue
		}
		target := target
		t.wg.Go(func() { t.send(b, target) })
	}

	if t.journal != nil && !t.closed && b.SlotID != "" {
		entry := JournalEntry{
			DeviceID: t.deviceID,
			SlotID:   b.SlotID,
			Type:     b.Type,
			Token:    b.Token,
			FiredAt:  t.clock.Now().UTC(),
		}
		t.wg.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
			defer cancel()
			if err := t.journal.Record(ctx, entry); err != nil {
				t.logger.Printf("journal %s for slot %s: %v", entry.Type, entry.SlotID, err)
			}
		})
	}
}

// FireOnce fires the beacon unless one with the same type, slot and token already fired.
// It reports whether the beacon was fired.
func (t *Tracker) FireOnce(b Beacon) bool {
	key := dedupKey{typ: b.Type, slot: b.SlotID, token: b.Token}
	t.mu.Lock()
	if _, seen := t.fired[key]; seen {
		t.mu.Unlock()
		return false
	}
	t.fired[key] = struct{}{}
	t.mu.Unlock()
	t.Fire(b)
	return true
}

// Forget drops the dedup history of a slot.
func (t *Tracker) Forget(slotID string) {
	t.mu.Lock()
	for key := range t.fired {
		if key.slot == slotID {
			delete(t.fired, key)
		}
	}
	t.mu.Unlock()
}

// Reset drops all dedup history.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.fired = make(map[dedupKey]struct{})
	t.mu.Unlock()
}

// Close stops accepting beacons and waits for in-flight requests or ctx expiry.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if recovered := t.wg.WaitAndRecover(); recovered != nil {
			t.logger.Printf("tracker goroutine panic: %v", recovered.Value)
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tracker close: %w", ctx.Err())
	}
}

func (t *Tracker) centralURL(b Beacon) string {
	if t.endpoint.URL == "" {
		return ""
	}
	u, err := url.Parse(t.endpoint.URL)
	if err != nil {
		t.logger.Printf("invalid track url %q: %v", t.endpoint.URL, err)
		return ""
	}
	q := u.Query()
	q.Set("type", string(b.Type))
	q.Set("tenantId", t.endpoint.TenantID)
	q.Set("streamId", t.endpoint.StreamID)
	q.Set("position", t.endpoint.Position)
	if b.SlotID != "" {
		q.Set("slot", b.SlotID)
	}
	q.Set("ts", strconv.FormatInt(t.clock.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func (t *Tracker) send(b Beacon, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		t.logger.Printf("beacon %s: build request: %v", b.Type, err)
		t.count(t.droppedCounter, b.Type, telemetry.ResultError)
		return
	}
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Printf("beacon %s to %s: %v", b.Type, target, err)
		t.count(t.sentCounter, b.Type, telemetry.ResultError)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	t.count(t.sentCounter, b.Type, telemetry.ResultSuccess)
}

func (t *Tracker) count(counter metric.Int64Counter, typ Type, result string) {
	if counter == nil {
		return
	}
	counter.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.BeaconAttributes(telemetry.Environment(), string(typ), result)...))
}
