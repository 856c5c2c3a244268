package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/config"
	"github.com/coachpo/adslot/internal/events"
)

type recorder struct {
	mu   sync.Mutex
	cmds []Command
	err  error
}

func (r *recorder) Dispatch(cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return r.err
}

func (r *recorder) all() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.cmds...)
}

func TestDecodeCommandAcceptsLegacyDomID(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"channel":"ad-sdk","type":"START","domId":"hero","bannerType":"overlay","adSize":"300x250"}`))
	require.NoError(t, err)
	require.Equal(t, KindStart, cmd.Kind)
	require.Equal(t, "hero", cmd.SlotID)
	require.Equal(t, config.BannerOverlay, cmd.BannerType)
	require.Equal(t, "300x250", cmd.AdSize)
}

func TestDecodeCommandRejectsUnknownAndEmptyRender(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"channel":"ad-sdk","type":"explode"}`))
	require.True(t, errs.Is(err, errs.CodeInvalid))
	require.Equal(t, "ad-sdk", cmd.Channel)

	_, err = DecodeCommand([]byte(`{"channel":"ad-sdk","type":"render","slotId":"a"}`))
	require.True(t, errs.Is(err, errs.CodeInvalid))

	_, err = DecodeCommand([]byte(`not json`))
	require.True(t, errs.Is(err, errs.CodeParse))
}

func TestDecodeSignalVariants(t *testing.T) {
	cases := map[string]Signal{
		`{"imageLoaded":true}`:      SignalRendered,
		`{"imageLoaded":1}`:         SignalRendered,
		`{"imageLoaded":false}`:     SignalIgnored,
		`{"type":"RENDERED"}`:       SignalRendered,
		`{"type":"rendered"}`:       SignalIgnored,
		`{"event":"rendered"}`:      SignalRendered,
		`{"action":"ADS_LOADED"}`:   SignalRendered,
		`{"action":"CLICK"}`:        SignalIgnored,
		`"imageLoaded"`:             SignalIgnored,
		`[1,2]`:                     SignalIgnored,
		``:                          SignalIgnored,
		`{"imageLoaded":"yes"`:      SignalIgnored,
		`{"imageLoaded":{"ok":1}}`:  SignalRendered,
		`{"imageLoaded":""}`:        SignalIgnored,
		`{"imageLoaded":null}`:      SignalIgnored,
		` {"type":"RENDERED"} `:     SignalRendered,
		`{"type":"RENDERED","x":1}`: SignalRendered,
	}
	for raw, want := range cases {
		if got := DecodeSignal([]byte(raw)); got != want {
			t.Fatalf("DecodeSignal(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestChannelFiltersByNameAndOrigin(t *testing.T) {
	rec := &recorder{}
	ch := NewChannel(config.Messaging{Channel: "ad-sdk", TargetOrigin: "https://host.example"}, rec, nil)

	ok, err := ch.Deliver("https://host.example", []byte(`{"channel":"other","type":"start","slotId":"a"}`))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = ch.Deliver("https://evil.example", []byte(`{"channel":"ad-sdk","type":"start","slotId":"a"}`))
	require.Error(t, err)
	require.False(t, ok)

	ok, err = ch.Deliver("https://host.example", []byte(`{"channel":"other","type":"bogus"}`))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = ch.Deliver("https://host.example", []byte(`{"channel":"ad-sdk","type":"dismiss","slotId":"a"}`))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, rec.all(), 1)
	require.Equal(t, KindDismiss, rec.all()[0].Kind)

	ch.Detach()
	ok, err = ch.Deliver("https://host.example", []byte(`{"channel":"ad-sdk","type":"start","slotId":"b"}`))
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, rec.all(), 1)
}

func TestChannelWildcardOrigin(t *testing.T) {
	rec := &recorder{}
	ch := NewChannel(config.Messaging{}, rec, nil)
	require.Equal(t, config.DefaultChannel, ch.Name())
	ok, err := ch.Deliver("", []byte(`{"channel":"ad-sdk","type":"refresh","slotId":"a"}`))
	require.NoError(t, err)
	require.True(t, ok)
}

func startBridge(t *testing.T, target Dispatcher) (*Bridge, string) {
	t.Helper()
	ch := NewChannel(config.Messaging{Channel: "ad-sdk", TargetOrigin: "*"}, target, nil)
	bridge := NewBridge(ch, WithOriginPatterns("*"))
	srv := httptest.NewServer(NewHandler("/control", bridge, func() any { return []string{"hero"} }))
	t.Cleanup(func() {
		bridge.Close()
		srv.Close()
	})
	return bridge, srv.URL
}

func TestBridgeDispatchesAndStreamsEvents(t *testing.T) {
	rec := &recorder{}
	bridge, base := startBridge(t, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, "ws"+strings.TrimPrefix(base, "http")+"/control", "ad-sdk", DialOptions{Attempts: 3})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(ctx, Command{Kind: KindStart, SlotID: "hero"}))
	frame, err := client.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, FrameAck, frame.Type)
	require.Equal(t, KindStart, frame.Command)
	require.Equal(t, "hero", frame.SlotID)
	require.Len(t, rec.all(), 1)

	require.Eventually(t, func() bool { return bridge.Clients() == 1 }, time.Second, 10*time.Millisecond)
	bridge.Broadcast(events.Event{Name: events.Rendered, SlotID: "hero", Token: 3})
	frame, err = client.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, FrameEvent, frame.Type)
	require.NotNil(t, frame.Event)
	require.Equal(t, events.Rendered, frame.Event.Name)
	require.Equal(t, uint64(3), frame.Event.Token)
}

func TestBridgeReportsDispatchErrors(t *testing.T) {
	rec := &recorder{err: errs.New("delivery/refresh", errs.CodeNotFound)}
	_, base := startBridge(t, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, "ws"+strings.TrimPrefix(base, "http")+"/control", "ad-sdk", DialOptions{})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(ctx, Command{Kind: KindRefresh, SlotID: "ghost"}))
	frame, err := client.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, FrameError, frame.Type)
	require.Contains(t, frame.Error, "not_found")
}

func TestHandlerServesSlotsAndHealth(t *testing.T) {
	_, base := startBridge(t, &recorder{})

	resp, err := http.Get(base + "/slots")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Post(base+"/healthz", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}
