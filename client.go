package meterd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/gasmeter/meterd/protocol"
)

// ErrPayloadTooLarge is returned when a request does not fit in one read on
// the server side.
var ErrPayloadTooLarge = errors.New("meterd: request exceeds " + strconv.Itoa(protocol.MaxPayload) + " bytes")

// ClientConfig holds configuration for a Client.
type ClientConfig struct {
	// Timeout bounds a whole exchange (dial, write, read) when the context
	// has no deadline. Zero means no limit.
	Timeout time.Duration

	// Dialer is the net.Dialer used to connect.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer
}

// Client talks to a meter server. Every call opens a connection, sends one
// request, reads the reply and closes; a Client keeps no connection between
// calls and is safe for concurrent use.
type Client struct {
	addr    string
	dialer  *net.Dialer
	timeout time.Duration
}

// NewClient returns a client for the server at addr ("host:port").
func NewClient(addr string, config ClientConfig) *Client {
	dialer := config.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Client{
		addr:    addr,
		dialer:  dialer,
		timeout: config.Timeout,
	}
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// Do performs one exchange. Sentinel replies ("Unknown Command",
// "Not Implemented", "Server Busy", "Error: ...") are returned as errors
// from the protocol package together with the raw response.
func (c *Client) Do(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	return c.exchange(ctx, cmd, cmd.Encode())
}

func (c *Client) exchange(ctx context.Context, cmd protocol.Command, payload []byte) (protocol.Response, error) {
	if len(payload) > protocol.MaxPayload {
		return protocol.Response{Verb: cmd.Verb}, ErrPayloadTooLarge
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return protocol.Response{Verb: cmd.Verb}, fmt.Errorf("meterd: dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// Unblock the exchange if ctx is canceled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return protocol.Response{Verb: cmd.Verb}, c.wrapErr(ctx, "write", err)
	}

	// The server closes the connection after its reply.
	reply, err := io.ReadAll(io.LimitReader(conn, protocol.MaxPayload))
	if err != nil {
		return protocol.Response{Verb: cmd.Verb}, c.wrapErr(ctx, "read", err)
	}

	return protocol.ParseResponse(cmd, reply)
}

func (c *Client) wrapErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("meterd: %s %s: %w", op, c.addr, ctxErr)
	}
	// The connection deadline can fire just before the context notices.
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("meterd: %s %s: %w", op, c.addr, context.DeadlineExceeded)
	}
	return fmt.Errorf("meterd: %s %s: %w", op, c.addr, err)
}

// Raw sends payload byte for byte and returns the reply. It is meant for
// exercising the server with arbitrary input.
func (c *Client) Raw(ctx context.Context, payload string) (protocol.Response, error) {
	return c.exchange(ctx, protocol.Parse([]byte(payload)), []byte(payload))
}

// GetReading returns the current meter reading in cubic metres.
func (c *Client) GetReading(ctx context.Context) (float64, error) {
	resp, err := c.Do(ctx, protocol.NewCommand(protocol.VerbGetReading, ""))
	if err != nil {
		return 0, err
	}
	return resp.Reading()
}

// GetRoomNumber returns the room number the meter is assigned to.
func (c *Client) GetRoomNumber(ctx context.Context) (string, error) {
	resp, err := c.Do(ctx, protocol.NewCommand(protocol.VerbGetRoomNo, ""))
	if err != nil {
		return "", err
	}
	return resp.Value(), nil
}

// SetRoomNumber overwrites the room number and returns the value the server
// acknowledged. The server stores room verbatim, but GetRoomNumber returns
// only its first whitespace-delimited token, so a value containing
// whitespace does not read back unchanged.
func (c *Client) SetRoomNumber(ctx context.Context, room string) (string, error) {
	resp, err := c.Do(ctx, protocol.NewCommand(protocol.VerbSetRoomNo, room))
	if err != nil {
		return "", err
	}
	return resp.Value(), nil
}

// GetSerialNumber returns the meter serial number.
func (c *Client) GetSerialNumber(ctx context.Context) (string, error) {
	resp, err := c.Do(ctx, protocol.NewCommand(protocol.VerbGetMeterSN, ""))
	if err != nil {
		return "", err
	}
	return resp.Value(), nil
}
