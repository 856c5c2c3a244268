package headless

import (
	"errors"
	"sync"

	"github.com/coachpo/adslot/internal/surface"
)

// Container is an in-memory ad container.
type Container struct {
	el   *Element
	spec surface.ContainerSpec

	mu          sync.Mutex
	opacity     float64
	removed     bool
	image       *Image
	document    *Document
	video       *Video
	placeholder string
	controls    []*Control
}

func (c *Container) Size() surface.Size {
	parent := c.el.Size()
	size := parent
	if c.spec.Width > 0 {
		size.Width = float64(c.spec.Width)
	}
	if c.spec.Height > 0 {
		size.Height = float64(c.spec.Height)
	}
	return size
}

func (c *Container) Remove() {
	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()
		return
	}
	c.removed = true
	doc := c.document
	video := c.video
	c.mu.Unlock()

	if doc != nil {
		doc.Detach()
	}
	if video != nil {
		video.Stop()
	}
	c.el.detach(c)
}

func (c *Container) SetOpacity(value float64) {
	c.mu.Lock()
	c.opacity = value
	c.mu.Unlock()
}

func (c *Container) ShowImage(src string, h surface.ImageHandlers) surface.Image {
	img := &Image{c: c, src: src, h: h}
	c.mu.Lock()
	c.image = img
	c.mu.Unlock()
	return img
}

func (c *Container) ShowDocument(spec surface.DocumentSpec) surface.Document {
	doc := &Document{c: c, spec: spec}
	c.mu.Lock()
	c.document = doc
	c.mu.Unlock()
	if spec.Inline != "" && c.el.s.runScripts {
		doc.runScripts(c.el.s.scriptTimeout, c.el.s.logger)
	}
	return doc
}

func (c *Container) ShowVideo(src string, h surface.VideoHandlers) surface.Video {
	v := &Video{c: c, src: src, h: h, muted: true}
	c.mu.Lock()
	c.video = v
	c.mu.Unlock()
	return v
}

func (c *Container) ShowPlaceholder(text string) {
	c.mu.Lock()
	c.placeholder = text
	c.mu.Unlock()
}

func (c *Container) AddControl(kind surface.ControlKind, label string, onClick func()) surface.Control {
	ctl := &Control{c: c, kind: kind, text: label, visible: true, onClick: onClick}
	c.mu.Lock()
	c.controls = append(c.controls, ctl)
	c.mu.Unlock()
	return ctl
}

// Removed reports whether the container was detached.
func (c *Container) Removed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

// Opacity returns the current opacity.
func (c *Container) Opacity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opacity
}

// Spec returns the spec the container was mounted with.
func (c *Container) Spec() surface.ContainerSpec { return c.spec }

// Image returns the image creative, or nil.
func (c *Container) Image() *Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

// Document returns the embedded document, or nil.
func (c *Container) Document() *Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.document
}

// Video returns the video creative, or nil.
func (c *Container) Video() *Video {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

// Placeholder returns the fallback placeholder text, or "".
func (c *Container) Placeholder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.placeholder
}

// Controls returns the attached controls of kind.
func (c *Container) Controls(kind surface.ControlKind) []*Control {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Control
	for _, ctl := range c.controls {
		if ctl.kind == kind && !ctl.isRemoved() {
			out = append(out, ctl)
		}
	}
	return out
}

// Control returns the first attached control of kind, or nil.
func (c *Container) Control(kind surface.ControlKind) *Control {
	if all := c.Controls(kind); len(all) > 0 {
		return all[0]
	}
	return nil
}

func (c *Container) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.removed
}

// ErrLoad is reported by Fail when no error is supplied.
var ErrLoad = errors.New("headless: resource failed to load")

// Image is an in-memory image creative.
type Image struct {
	c   *Container
	src string
	h   surface.ImageHandlers

	mu     sync.Mutex
	placed surface.Rect
}

func (i *Image) Place(r surface.Rect) {
	i.mu.Lock()
	i.placed = r
	i.mu.Unlock()
}

// Src returns the image source.
func (i *Image) Src() string { return i.src }

// Placement returns the last placement.
func (i *Image) Placement() surface.Rect {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.placed
}

// Load simulates a successful image load with the given natural size.
func (i *Image) Load(natural surface.Size) {
	if i.c.live() && i.h.OnLoad != nil {
		i.h.OnLoad(natural)
	}
}

// Fail simulates an image load error.
func (i *Image) Fail(err error) {
	if err == nil {
		err = ErrLoad
	}
	if i.c.live() && i.h.OnError != nil {
		i.h.OnError(err)
	}
}

// Click simulates a user click on the image.
func (i *Image) Click() {
	if i.c.live() && i.h.OnClick != nil {
		i.h.OnClick()
	}
}

// Video is an in-memory video creative.
type Video struct {
	c   *Container
	src string
	h   surface.VideoHandlers

	mu      sync.Mutex
	muted   bool
	stopped bool
}

func (v *Video) SetMuted(muted bool) {
	v.mu.Lock()
	v.muted = muted
	v.mu.Unlock()
}

func (v *Video) Muted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muted
}

func (v *Video) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
}

// Src returns the media URL.
func (v *Video) Src() string { return v.src }

// Stopped reports whether playback was stopped.
func (v *Video) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *Video) playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.stopped && v.c.live()
}

// Play simulates the start of playback.
func (v *Video) Play() {
	if v.playing() && v.h.OnPlay != nil {
		v.h.OnPlay()
	}
}

// Progress simulates a time update in seconds.
func (v *Video) Progress(position, duration float64) {
	if v.playing() && v.h.OnProgress != nil {
		v.h.OnProgress(position, duration)
	}
}

// End simulates the end of playback.
func (v *Video) End() {
	if v.playing() && v.h.OnEnded != nil {
		v.h.OnEnded()
	}
}

// Fail simulates a media error.
func (v *Video) Fail(err error) {
	if err == nil {
		err = ErrLoad
	}
	if v.playing() && v.h.OnError != nil {
		v.h.OnError(err)
	}
}

// Click simulates a user click on the video.
func (v *Video) Click() {
	if v.playing() && v.h.OnClick != nil {
		v.h.OnClick()
	}
}

// Control is an in-memory overlay control.
type Control struct {
	c       *Container
	kind    surface.ControlKind
	onClick func()

	mu      sync.Mutex
	text    string
	visible bool
	removed bool
	placed  surface.Rect
}

func (b *Control) SetText(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
}

func (b *Control) SetVisible(visible bool) {
	b.mu.Lock()
	b.visible = visible
	b.mu.Unlock()
}

func (b *Control) Place(r surface.Rect) {
	b.mu.Lock()
	b.placed = r
	b.mu.Unlock()
}

func (b *Control) Remove() {
	b.mu.Lock()
	b.removed = true
	b.mu.Unlock()
}

func (b *Control) isRemoved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removed
}

// Kind returns the control kind.
func (b *Control) Kind() surface.ControlKind { return b.kind }

// Text returns the current label.
func (b *Control) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// Visible reports whether the control is shown.
func (b *Control) Visible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible && !b.removed
}

// Placement returns the last placement.
func (b *Control) Placement() surface.Rect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.placed
}

// Click simulates a user click. Hidden or removed controls ignore clicks.
func (b *Control) Click() bool {
	if !b.Visible() || !b.c.live() || b.onClick == nil {
		return false
	}
	b.onClick()
	return true
}
