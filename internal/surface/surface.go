// Package surface defines the host rendering surface the delivery orchestrator draws into.
//
// Implementations may invoke handlers from any goroutine. The orchestrator re-posts every
// handler invocation onto its own loop, so handlers never touch slot state directly.
package surface

// DocumentSandbox is the sandbox policy applied to embedded creative documents.
const DocumentSandbox = "allow-scripts allow-same-origin allow-popups allow-top-navigation-by-user-activation"

// Cancel detaches a listener. Calling it more than once is a no-op.
type Cancel func()

// Surface resolves host elements and owns the welcome overlay.
type Surface interface {
	// Lookup returns the host element registered under id.
	Lookup(id string) (Element, bool)
	// Overlay returns the full-viewport welcome overlay, creating it on first use.
	Overlay() Element
	// RemoveOverlay detaches the welcome overlay if present.
	RemoveOverlay()
	// Open navigates a new browsing context to url.
	Open(url string)
}

// Element is a host element that can hold ad containers.
type Element interface {
	ID() string
	Size() Size
	// Mount attaches a fresh container to the element.
	Mount(spec ContainerSpec) Container
	// OnResize registers fn for element size changes.
	OnResize(fn func()) Cancel
}

// ContainerSpec sizes a new container. Zero dimensions fill the parent element.
type ContainerSpec struct {
	Width   int
	Height  int
	Welcome bool
}

// Container is the per-start wrapper holding one creative and its controls.
type Container interface {
	Size() Size
	// Remove detaches the container and everything inside it.
	Remove()
	SetOpacity(value float64)

	ShowImage(src string, h ImageHandlers) Image
	ShowDocument(spec DocumentSpec) Document
	ShowVideo(src string, h VideoHandlers) Video
	ShowPlaceholder(text string)
	// AddControl adds a clickable overlay control such as a skip or mute button.
	AddControl(kind ControlKind, label string, onClick func()) Control
}

// ImageHandlers receive image lifecycle notifications.
type ImageHandlers struct {
	OnLoad  func(natural Size)
	OnError func(err error)
	OnClick func()
}

// Image is a rendered image creative.
type Image interface {
	Place(r Rect)
}

// DocumentSpec describes an embedded creative document. Exactly one of URL or Inline is set.
type DocumentSpec struct {
	URL     string
	Inline  string
	Size    Size
	Sandbox string
	// OnMessage receives messages the document posts to its parent.
	OnMessage func(origin string, data []byte)
}

// Document is an embedded creative document.
type Document interface {
	// Detach stops message delivery from the document.
	Detach()
}

// VideoHandlers receive playback notifications.
type VideoHandlers struct {
	OnPlay     func()
	OnProgress func(position, duration float64)
	OnEnded    func()
	OnError    func(err error)
	OnClick    func()
}

// Video is an autoplaying, initially muted video creative.
type Video interface {
	SetMuted(muted bool)
	Muted() bool
	Stop()
}

// ControlKind names an overlay control.
type ControlKind string

const (
	ControlClose     ControlKind = "close"
	ControlSkip      ControlKind = "skip"
	ControlMute      ControlKind = "mute"
	ControlStatus    ControlKind = "status"
	ControlClickArea ControlKind = "click-area"
)

// Control is an overlay control inside a container.
type Control interface {
	SetText(text string)
	SetVisible(visible bool)
	Place(r Rect)
	Remove()
}
