// Package headless implements surface.Surface in memory. It backs slotd and the delivery
// tests: creative loads, clicks and playback are driven through simulation methods, and
// inline creative documents have their scripts executed by a JavaScript runtime.
package headless

import (
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/adslot/internal/surface"
)

// OverlayID is the element id of the welcome overlay.
const OverlayID = "welcome-overlay"

const defaultScriptTimeout = 2 * time.Second

// Surface is an in-memory host surface. It is safe for concurrent use.
type Surface struct {
	mu            sync.Mutex
	viewport      surface.Size
	elements      map[string]*Element
	overlay       *Element
	opened        []string
	logger        *log.Logger
	runScripts    bool
	scriptTimeout time.Duration
}

// Option configures a Surface.
type Option func(*Surface)

// WithLogger sets the logger used for script diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(s *Surface) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithoutScripts disables execution of inline creative scripts.
func WithoutScripts() Option {
	return func(s *Surface) { s.runScripts = false }
}

// WithScriptTimeout bounds how long one inline document may run its scripts.
func WithScriptTimeout(d time.Duration) Option {
	return func(s *Surface) {
		if d > 0 {
			s.scriptTimeout = d
		}
	}
}

// New returns a surface with the given viewport size.
func New(viewport surface.Size, opts ...Option) *Surface {
	s := &Surface{
		viewport:      viewport,
		elements:      make(map[string]*Element),
		logger:        log.New(io.Discard, "", 0),
		runScripts:    true,
		scriptTimeout: defaultScriptTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register adds a host element, replacing any element with the same id.
func (s *Surface) Register(id string, size surface.Size) *Element {
	el := newElement(s, strings.TrimSpace(id), size, false)
	s.mu.Lock()
	s.elements[el.id] = el
	s.mu.Unlock()
	return el
}

// Unregister removes a host element.
func (s *Surface) Unregister(id string) {
	s.mu.Lock()
	delete(s.elements, strings.TrimSpace(id))
	s.mu.Unlock()
}

// Element returns the concrete element registered under id, including the overlay.
func (s *Surface) Element(id string) *Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == OverlayID {
		return s.overlay
	}
	return s.elements[id]
}

// IDs lists registered element ids in sorted order.
func (s *Surface) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.elements))
	for id := range s.elements {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Surface) Lookup(id string) (surface.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elements[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	return el, true
}

func (s *Surface) Overlay() surface.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlay == nil {
		s.overlay = newElement(s, OverlayID, s.viewport, true)
	}
	return s.overlay
}

func (s *Surface) RemoveOverlay() {
	s.mu.Lock()
	overlay := s.overlay
	s.overlay = nil
	s.mu.Unlock()
	if overlay != nil {
		overlay.detachAll()
	}
}

// HasOverlay reports whether the welcome overlay is attached.
func (s *Surface) HasOverlay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay != nil
}

func (s *Surface) Open(url string) {
	s.mu.Lock()
	s.opened = append(s.opened, url)
	s.mu.Unlock()
}

// Opened returns the URLs opened so far.
func (s *Surface) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...)
}

// Element is an in-memory host element.
type Element struct {
	s       *Surface
	id      string
	overlay bool

	mu         sync.Mutex
	size       surface.Size
	containers []*Container
	listeners  map[int]func()
	nextID     int
}

func newElement(s *Surface, id string, size surface.Size, overlay bool) *Element {
	return &Element{s: s, id: id, size: size, overlay: overlay, listeners: make(map[int]func())}
}

func (e *Element) ID() string { return e.id }

func (e *Element) Size() surface.Size {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.size
}

func (e *Element) Mount(spec surface.ContainerSpec) surface.Container {
	c := &Container{el: e, spec: spec, opacity: 1}
	if spec.Welcome {
		c.opacity = 0
	}
	e.mu.Lock()
	e.containers = append(e.containers, c)
	e.mu.Unlock()
	return c
}

func (e *Element) OnResize(fn func()) surface.Cancel {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Resize changes the element size and notifies resize listeners.
func (e *Element) Resize(size surface.Size) {
	e.mu.Lock()
	e.size = size
	fns := make([]func(), 0, len(e.listeners))
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, e.listeners[id])
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// ResizeListeners reports the number of attached resize listeners.
func (e *Element) ResizeListeners() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Containers returns the containers currently attached to the element.
func (e *Element) Containers() []*Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Container(nil), e.containers...)
}

// Current returns the most recently attached container, or nil.
func (e *Element) Current() *Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.containers) == 0 {
		return nil
	}
	return e.containers[len(e.containers)-1]
}

func (e *Element) detach(c *Container) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.containers {
		if existing == c {
			e.containers = append(e.containers[:i], e.containers[i+1:]...)
			return
		}
	}
}

func (e *Element) detachAll() {
	for _, c := range e.Containers() {
		c.Remove()
	}
}
