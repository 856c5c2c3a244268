package messaging

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
)

const defaultDialAttempts = 5

// DialOptions configures a controller connection.
type DialOptions struct {
	// Origin is sent as the Origin header and checked against the channel's target origin.
	Origin      string
	Attempts    int
	MaxInterval time.Duration
}

// Client is a controller connection to a Bridge.
type Client struct {
	conn    *websocket.Conn
	channel string
}

// Dial connects to a bridge at url, retrying with exponential backoff.
func Dial(ctx context.Context, url, channel string, opts DialOptions) (*Client, error) {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = defaultDialAttempts
	}
	policy := backoff.NewExponentialBackOff()
	if opts.MaxInterval > 0 {
		policy.MaxInterval = opts.MaxInterval
	}
	header := http.Header{}
	if origin := strings.TrimSpace(opts.Origin); origin != "" {
		header.Set("Origin", origin)
	}

	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
		return conn, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(attempts)))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(bridgeReadLimit)
	return &Client{conn: conn, channel: channel}, nil
}

// Send writes cmd, stamping the client's channel when cmd has none.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	if cmd.Channel == "" {
		cmd.Channel = c.channel
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// Next blocks for the next frame from the bridge.
func (c *Client) Next(ctx context.Context) (Frame, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return Frame{}, err
		}
		if typ != websocket.MessageText {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			return Frame{}, fmt.Errorf("decode frame: %w", err)
		}
		return frame, nil
	}
}

// Close closes the connection normally.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
