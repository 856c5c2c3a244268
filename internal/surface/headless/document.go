package headless

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	json "github.com/goccy/go-json"

	"github.com/coachpo/adslot/internal/surface"
)

const maxDeferredTasks = 256

// Document is an in-memory embedded creative document.
type Document struct {
	c    *Container
	spec surface.DocumentSpec

	mu       sync.Mutex
	detached bool
	posted   int
}

func (d *Document) Detach() {
	d.mu.Lock()
	d.detached = true
	d.mu.Unlock()
}

// Spec returns the document description.
func (d *Document) Spec() surface.DocumentSpec { return d.spec }

// Detached reports whether message delivery stopped.
func (d *Document) Detached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detached
}

// Posted returns the number of messages delivered to the parent.
func (d *Document) Posted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.posted
}

// Post simulates the document posting data to its parent. It reports whether the message was delivered.
func (d *Document) Post(origin string, data []byte) bool {
	d.mu.Lock()
	if d.detached || d.spec.OnMessage == nil {
		d.mu.Unlock()
		return false
	}
	d.posted++
	d.mu.Unlock()
	d.spec.OnMessage(origin, data)
	return true
}

type deferredTask struct {
	seq   int
	delay int64
	fn    goja.Callable
}

// runScripts executes the inline <script> blocks of the document in a fresh runtime.
// parent.postMessage and window.parent.postMessage deliver to the document's OnMessage.
// setTimeout callbacks run after the scripts in delay order; delays are not waited out.
func (d *Document) runScripts(timeout time.Duration, logger *log.Logger) {
	sources := extractScripts(d.spec.Inline)
	if len(sources) == 0 {
		return
	}

	rt := goja.New()
	timer := time.AfterFunc(timeout, func() { rt.Interrupt("script timeout") })
	defer timer.Stop()

	var (
		queue []deferredTask
		seq   int
	)

	postMessage := func(call goja.FunctionCall) goja.Value {
		data, err := encodeMessage(call.Argument(0))
		if err != nil {
			logger.Printf("creative postMessage: %v", err)
			return goja.Undefined()
		}
		origin := "*"
		if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			origin = arg.String()
		}
		d.Post(origin, data)
		return goja.Undefined()
	}
	setTimeout := func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok || len(queue) >= maxDeferredTasks {
			return rt.ToValue(0)
		}
		seq++
		queue = append(queue, deferredTask{seq: seq, delay: call.Argument(1).ToInteger(), fn: fn})
		return rt.ToValue(seq)
	}

	parent := rt.NewObject()
	_ = parent.Set("postMessage", postMessage)
	window := rt.NewObject()
	_ = window.Set("parent", parent)
	_ = window.Set("top", parent)
	_ = window.Set("setTimeout", setTimeout)
	_ = rt.Set("window", window)
	_ = rt.Set("parent", parent)
	_ = rt.Set("top", parent)
	_ = rt.Set("setTimeout", setTimeout)
	_ = rt.Set("console", buildConsole(rt, logger))

	for idx, src := range sources {
		if _, err := rt.RunString(src); err != nil {
			logger.Printf("creative script %d: %v", idx, err)
			if isInterrupt(err) {
				return
			}
		}
	}

	for len(queue) > 0 {
		sort.SliceStable(queue, func(i, j int) bool {
			if queue[i].delay != queue[j].delay {
				return queue[i].delay < queue[j].delay
			}
			return queue[i].seq < queue[j].seq
		})
		task := queue[0]
		queue = queue[1:]
		if _, err := task.fn(goja.Undefined()); err != nil {
			logger.Printf("creative timer %d: %v", task.seq, err)
			if isInterrupt(err) {
				return
			}
		}
	}
}

func isInterrupt(err error) bool {
	_, ok := err.(*goja.InterruptedError)
	return ok
}

// encodeMessage mirrors structured clone closely enough for render signals: strings pass
// through verbatim, everything else is JSON encoded.
func encodeMessage(value goja.Value) ([]byte, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return []byte("null"), nil
	}
	exported := value.Export()
	if s, ok := exported.(string); ok {
		return []byte(s), nil
	}
	data, err := json.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

func buildConsole(rt *goja.Runtime, logger *log.Logger) *goja.Object {
	console := rt.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		logger.Printf("creative console: %s", strings.Join(parts, " "))
		return goja.Undefined()
	}
	_ = console.Set("log", logFn)
	_ = console.Set("error", logFn)
	_ = console.Set("warn", logFn)
	_ = console.Set("info", logFn)
	return console
}

// extractScripts returns the bodies of inline <script> elements. Scripts with a src attribute are skipped.
func extractScripts(markup string) []string {
	lower := strings.ToLower(markup)
	var out []string
	pos := 0
	for {
		open := strings.Index(lower[pos:], "<script")
		if open < 0 {
			return out
		}
		open += pos
		tagEnd := strings.Index(lower[open:], ">")
		if tagEnd < 0 {
			return out
		}
		tagEnd += open
		closeTag := strings.Index(lower[tagEnd:], "</script>")
		if closeTag < 0 {
			return out
		}
		closeTag += tagEnd
		attrs := lower[open+len("<script") : tagEnd]
		body := markup[tagEnd+1 : closeTag]
		if !strings.Contains(attrs, "src=") && strings.TrimSpace(body) != "" {
			out = append(out, body)
		}
		pos = closeTag + len("</script>")
	}
}
