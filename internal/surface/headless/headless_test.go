package headless

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/adslot/internal/surface"
)

type inbox struct {
	mu       sync.Mutex
	messages []string
	origins  []string
}

func (i *inbox) receive(origin string, data []byte) {
	i.mu.Lock()
	i.origins = append(i.origins, origin)
	i.messages = append(i.messages, string(data))
	i.mu.Unlock()
}

func (i *inbox) all() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.messages...)
}

func TestLookupAndMount(t *testing.T) {
	s := New(surface.Size{Width: 1280, Height: 720})
	s.Register("slot-1", surface.Size{Width: 300, Height: 250})

	el, ok := s.Lookup("slot-1")
	require.True(t, ok)
	_, ok = s.Lookup("missing")
	require.False(t, ok)

	first := el.Mount(surface.ContainerSpec{})
	second := el.Mount(surface.ContainerSpec{Width: 200})
	require.Equal(t, surface.Size{Width: 300, Height: 250}, first.Size())
	require.Equal(t, surface.Size{Width: 200, Height: 250}, second.Size())

	concrete := s.Element("slot-1")
	require.Len(t, concrete.Containers(), 2)
	first.Remove()
	first.Remove()
	require.Len(t, concrete.Containers(), 1)
	require.Same(t, second, concrete.Current())
}

func TestOverlayLifecycle(t *testing.T) {
	s := New(surface.Size{Width: 1920, Height: 1080})
	require.False(t, s.HasOverlay())

	overlay := s.Overlay()
	require.Equal(t, OverlayID, overlay.ID())
	require.Equal(t, surface.Size{Width: 1920, Height: 1080}, overlay.Size())
	c := overlay.Mount(surface.ContainerSpec{Welcome: true})
	require.Equal(t, 0.0, c.(*Container).Opacity())
	require.Same(t, overlay, s.Overlay())

	s.RemoveOverlay()
	require.False(t, s.HasOverlay())
	require.True(t, c.(*Container).Removed())
}

func TestResizeListeners(t *testing.T) {
	s := New(surface.Size{Width: 100, Height: 100})
	el := s.Register("a", surface.Size{Width: 10, Height: 10})
	calls := 0
	cancel := el.OnResize(func() { calls++ })
	el.Resize(surface.Size{Width: 20, Height: 20})
	cancel()
	cancel()
	el.Resize(surface.Size{Width: 30, Height: 30})
	require.Equal(t, 1, calls)
	require.Zero(t, el.ResizeListeners())
}

func TestRemovedContainerSuppressesCallbacks(t *testing.T) {
	s := New(surface.Size{Width: 100, Height: 100})
	el := s.Register("a", surface.Size{Width: 10, Height: 10})
	c := el.Mount(surface.ContainerSpec{}).(*Container)

	loads := 0
	c.ShowImage("https://cdn/a.png", surface.ImageHandlers{OnLoad: func(surface.Size) { loads++ }})
	clicks := 0
	ctl := c.AddControl(surface.ControlClose, "x", func() { clicks++ }).(*Control)

	c.Remove()
	c.Image().Load(surface.Size{Width: 1, Height: 1})
	require.Zero(t, loads)
	require.False(t, ctl.Click())
	require.Zero(t, clicks)
}

func TestHiddenControlIgnoresClicks(t *testing.T) {
	s := New(surface.Size{Width: 100, Height: 100})
	c := s.Register("a", surface.Size{Width: 10, Height: 10}).Mount(surface.ContainerSpec{}).(*Container)
	clicks := 0
	ctl := c.AddControl(surface.ControlSkip, "skip", func() { clicks++ }).(*Control)
	ctl.SetVisible(false)
	require.False(t, ctl.Click())
	ctl.SetVisible(true)
	require.True(t, ctl.Click())
	require.Equal(t, 1, clicks)
}

func TestInlineScriptPostsToParent(t *testing.T) {
	s := New(surface.Size{Width: 100, Height: 100})
	c := s.Register("a", surface.Size{Width: 300, Height: 250}).Mount(surface.ContainerSpec{})
	box := &inbox{}

	markup := `<html><body>
<script src="https://cdn/lib.js"></script>
<script>
  setTimeout(function () { window.parent.postMessage({type: "RENDERED"}, "*"); }, 50);
  parent.postMessage({imageLoaded: true}, "https://creative.example");
</script>
</body></html>`
	doc := c.ShowDocument(surface.DocumentSpec{Inline: markup, Sandbox: surface.DocumentSandbox, OnMessage: box.receive})

	require.Equal(t, []string{`{"imageLoaded":true}`, `{"type":"RENDERED"}`}, box.all())
	require.Equal(t, "https://creative.example", box.origins[0])
	require.Equal(t, 2, doc.(*Document).Posted())
}

func TestScriptErrorsAreContained(t *testing.T) {
	s := New(surface.Size{Width: 100, Height: 100})
	c := s.Register("a", surface.Size{Width: 300, Height: 250}).Mount(surface.ContainerSpec{})
	box := &inbox{}
	markup := `<script>throw new Error("boom")</script><script>parent.postMessage("ok")</script>`
	c.ShowDocument(surface.DocumentSpec{Inline: markup, OnMessage: box.receive})
	require.Equal(t, []string{"ok"}, box.all())
}

func TestRunawayScriptIsInterrupted(t *testing.T) {
	s := New(surface.Size{Width: 100, Height: 100}, WithScriptTimeout(20*time.Millisecond))
	c := s.Register("a", surface.Size{Width: 300, Height: 250}).Mount(surface.ContainerSpec{})
	box := &inbox{}
	c.ShowDocument(surface.DocumentSpec{Inline: `<script>for(;;){}</script>`, OnMessage: box.receive})
	require.Empty(t, box.all())
}

func TestDetachedDocumentDropsMessages(t *testing.T) {
	s := New(surface.Size{Width: 100, Height: 100}, WithoutScripts())
	c := s.Register("a", surface.Size{Width: 300, Height: 250}).Mount(surface.ContainerSpec{})
	box := &inbox{}
	doc := c.ShowDocument(surface.DocumentSpec{URL: "https://creative", OnMessage: box.receive}).(*Document)
	require.True(t, doc.Post("*", []byte("a")))
	c.Remove()
	require.False(t, doc.Post("*", []byte("b")))
	require.Equal(t, []string{"a"}, box.all())
}

func TestExtractScripts(t *testing.T) {
	got := extractScripts(`<SCRIPT type="text/javascript">a()</SCRIPT><script src=x></script><script> </script><script>b()`)
	require.Equal(t, []string{"a()"}, got)
}
