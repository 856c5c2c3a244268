package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/config"
)

type scriptedTransport struct {
	mu        sync.Mutex
	responses []Response
	failures  []error
	calls     int
}

func (s *scriptedTransport) Get(_ context.Context, _ string) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.failures) && s.failures[i] != nil {
		return Response{}, s.failures[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return Response{Status: http.StatusInternalServerError}, nil
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastPolicy(retries int) Policy {
	return Policy{Timeout: time.Second, Retries: retries, Backoff: time.Millisecond}
}

const imagePayload = `{"bannerSource":"IMG","content":"https://cdn/x.png","ratioWidth":16,"ratioHeight":9,
"clickThrough":"https://adv","clickTracking":"https://ct","trackingEvents":{"impression":["https://imp1","https://imp2"]},
"skipOffSet":5,"delayOffSet":"30"}`

func TestDecodeImagePayload(t *testing.T) {
	ad, err := Decode([]byte(imagePayload), false)
	require.NoError(t, err)
	require.Equal(t, FormatImage, ad.Format)
	require.Equal(t, "https://cdn/x.png", ad.ContentRef)
	require.Equal(t, Dimensions{Width: 16, Height: 9}, ad.Dimensions)
	require.Equal(t, []string{"https://ct"}, ad.ClickTracking)
	require.Equal(t, []string{"https://imp1", "https://imp2"}, ad.TrackingURLs("impression"))
	require.NotNil(t, ad.SkipOffset)
	require.Equal(t, 5*time.Second, *ad.SkipOffset)
	require.NotNil(t, ad.DelayOffset)
	require.Equal(t, 30*time.Second, *ad.DelayOffset)
}

func TestDecodeWelcomeUsesURLAndSkipOffset(t *testing.T) {
	body := `{"bannerSource":"img","content":"ignored","url":"https://cdn/welcome.png","skipOffset":3,"skipOffSet":9}`
	ad, err := Decode([]byte(body), true)
	require.NoError(t, err)
	require.Equal(t, "https://cdn/welcome.png", ad.ContentRef)
	require.Equal(t, 3*time.Second, *ad.SkipOffset)
	require.Nil(t, ad.DelayOffset)
}

func TestDecodeEmptyAndInvalid(t *testing.T) {
	ad, err := Decode([]byte("null"), false)
	require.NoError(t, err)
	require.Nil(t, ad)

	_, err = Decode([]byte("{not json"), false)
	require.True(t, errs.Is(err, errs.CodeParse), "expected parse error, got %v", err)
}

func TestFormatFor(t *testing.T) {
	cases := map[string]Format{
		"IMG": FormatImage, "url": FormatDocument, "HTML": FormatDocument, "SDK": FormatDocument,
		"VAST": FormatVideo, "GIF": FormatUnknown, "": FormatUnknown,
	}
	for source, want := range cases {
		if got := FormatFor(source); got != want {
			t.Fatalf("FormatFor(%q) = %s, want %s", source, got, want)
		}
	}
}

func TestBuildURLCarriesTargeting(t *testing.T) {
	cfg := config.DefaultSDK()
	cfg.StreamID = "live-1"
	cfg.Targeting.ChannelID = "vtv1"
	cfg.Targeting.Platform = config.PlatformWeb
	cfg.Targeting.Gender = config.GenderMale

	raw, err := BuildURL(cfg, Request{
		BannerType: config.BannerOverlay,
		AdSize:     "300x250",
		PositionID: "top",
		Signature:  "sig",
		DeviceID:   "dev",
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "14", q.Get("t"))
	require.Equal(t, "live-1", q.Get("sid"))
	require.Equal(t, "vtv1", q.Get("cid"))
	require.Equal(t, "WEB", q.Get("p"))
	require.Equal(t, "MALE", q.Get("gd"))
	require.Equal(t, "dev", q.Get("d"))
	require.Equal(t, "sig", q.Get("si"))
	require.Equal(t, "OVERLAY", q.Get("bt"))
	require.Equal(t, "300x250", q.Get("as"))
	require.Equal(t, "top", q.Get("pid"))
	require.False(t, q.Has("kw"), "empty targeting must be omitted")
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	transport := &scriptedTransport{
		failures:  []error{errors.New("reset"), errors.New("reset")},
		responses: []Response{{}, {}, {Status: http.StatusOK, Body: []byte(imagePayload)}},
	}
	f := NewFetcher(transport, fastPolicy(2))

	ad, err := f.Fetch(context.Background(), "http://ads", false, nil)
	require.NoError(t, err)
	require.Equal(t, FormatImage, ad.Format)
	require.Equal(t, 3, transport.Calls())
}

func TestFetchExhaustsRetries(t *testing.T) {
	transport := &scriptedTransport{}
	f := NewFetcher(transport, fastPolicy(2))

	_, err := f.Fetch(context.Background(), "http://ads", false, nil)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeTransport), "expected transport error, got %v", err)
	require.Equal(t, 3, transport.Calls())
}

func TestFetchStaleStopsRetrying(t *testing.T) {
	transport := &scriptedTransport{}
	var calls atomic.Int32
	current := func() bool { return calls.Add(1) <= 1 }
	f := NewFetcher(transport, fastPolicy(5))

	_, err := f.Fetch(context.Background(), "http://ads", false, current)
	require.ErrorIs(t, err, ErrStale)
	require.Equal(t, 1, transport.Calls())
}

func TestFetchDecodeErrorIsNotRetried(t *testing.T) {
	transport := &scriptedTransport{responses: []Response{{Status: http.StatusOK, Body: []byte("<html>")}}}
	f := NewFetcher(transport, fastPolicy(3))

	_, err := f.Fetch(context.Background(), "http://ads", false, nil)
	require.True(t, errs.Is(err, errs.CodeParse), "expected parse error, got %v", err)
	require.Equal(t, 1, transport.Calls())
}

func TestHTTPTransportTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewFetcher(NewHTTPTransport(srv.Client()), Policy{Timeout: 20 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL, false, nil)
	require.True(t, errs.Is(err, errs.CodeTimeout), "expected timeout, got %v", err)
}

func TestHTTPTransportReadsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(imagePayload))
	}))
	defer srv.Close()

	f := NewFetcher(NewHTTPTransport(srv.Client()), fastPolicy(0))
	ad, err := f.Fetch(context.Background(), srv.URL, false, nil)
	require.NoError(t, err)
	require.Equal(t, "https://cdn/x.png", ad.ContentRef)

	body, err := f.Document(context.Background(), srv.URL, time.Second)
	require.NoError(t, err)
	require.Contains(t, string(body), "bannerSource")
}

func TestHTTPTransportRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), maxBodyBytes+1))
	}))
	defer srv.Close()

	_, err := NewHTTPTransport(srv.Client()).Get(context.Background(), srv.URL)
	require.True(t, errs.Is(err, errs.CodeTransport), "expected transport error, got %v", err)
	require.ErrorContains(t, err, "response too large")

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), maxBodyBytes))
	}))
	defer srv2.Close()
	resp, err := NewHTTPTransport(srv2.Client()).Get(context.Background(), srv2.URL)
	require.NoError(t, err)
	require.Len(t, resp.Body, maxBodyBytes)
}
