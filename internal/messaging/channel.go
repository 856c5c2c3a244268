package messaging

import (
	"io"
	"log"
	"strings"
	"sync"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/config"
)

// Dispatcher executes decoded host commands.
type Dispatcher interface {
	Dispatch(cmd Command) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(cmd Command) error

func (f DispatcherFunc) Dispatch(cmd Command) error { return f(cmd) }

// Channel filters inbound messages by channel name and sender origin before dispatching them.
type Channel struct {
	name   string
	origin string
	logger *log.Logger

	mu       sync.RWMutex
	target   Dispatcher
	detached bool
}

// NewChannel builds a channel from the messaging configuration.
func NewChannel(cfg config.Messaging, target Dispatcher, logger *log.Logger) *Channel {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	name := strings.TrimSpace(cfg.Channel)
	if name == "" {
		name = config.DefaultChannel
	}
	origin := strings.TrimSpace(cfg.TargetOrigin)
	if origin == "" {
		origin = "*"
	}
	return &Channel{name: name, origin: origin, target: target, logger: logger}
}

// Name returns the channel name messages must carry.
func (c *Channel) Name() string { return c.name }

// Deliver decodes data from origin and dispatches it. Messages for other channels are
// dropped silently; rejected origins are logged. It reports whether the message was dispatched.
func (c *Channel) Deliver(origin string, data []byte) (bool, error) {
	c.mu.RLock()
	target := c.target
	detached := c.detached
	c.mu.RUnlock()
	if detached || target == nil {
		return false, nil
	}

	cmd, err := DecodeCommand(data)
	if err != nil {
		if errs.Is(err, errs.CodeParse) {
			return false, nil
		}
		if cmd.Channel != c.name {
			return false, nil
		}
		c.logger.Printf("invalid message on %s: %v", c.name, err)
		return false, err
	}
	if cmd.Channel != c.name {
		return false, nil
	}
	if c.origin != "*" && strings.TrimSpace(origin) != c.origin {
		c.logger.Printf("rejected message from unauthorized origin %q", origin)
		return false, errs.New("messaging/deliver", errs.CodeInvalid,
			errs.WithMessage("origin not allowed"), errs.WithField("origin", origin))
	}
	if err := target.Dispatch(cmd); err != nil {
		c.logger.Printf("%s command for slot %q: %v", cmd.Kind, cmd.SlotID, err)
		return true, err
	}
	return true, nil
}

// Detach stops dispatching. Later deliveries are ignored.
func (c *Channel) Detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

// Detached reports whether Detach was called.
func (c *Channel) Detached() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.detached
}
