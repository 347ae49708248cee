package handshake

import (
	"context"
	"fmt"
	"sync"

	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/sasl"
	"github.com/cyberinferno/go-lobby/session"
	"github.com/cyberinferno/go-lobby/tcpclient"
)

type incoming struct {
	frame Frame
	err   error
}

// Client is the proving side of the handshake.
type Client struct {
	tcp  *tcpclient.Client
	mech sasl.Mechanism
	log  logger.Logger
	sess *session.SessionData

	frames    chan incoming
	stop      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client for the lobby at addr.
//
// Parameters:
//   - addr: The "host:port" of the lobby
//   - mech: Mechanism context for the client role
//   - log: Logger; nil discards output
//
// Returns:
//   - A new Client; call Login to connect and authenticate
func NewClient(addr string, mech sasl.Mechanism, log logger.Logger) *Client {
	cfg := tcpclient.DefaultConfig(addr)
	cfg.DataLengthBasedRead = true
	cfg.MaxMessageSize = MaxFrameSize

	base := logger.OrNop(log)
	c := &Client{
		tcp:    tcpclient.New(cfg, base),
		mech:   mech,
		log:    base.With(logger.Field{Key: "component", Value: "handshake_client"}),
		sess:   session.New(nil, 0, nil),
		frames: make(chan incoming, 16),
		stop:   make(chan struct{}),
	}

	c.tcp.OnDataReceived(func(e tcpclient.DataReceivedEvent) {
		f, err := DecodeFrame(e.Data)
		select {
		case c.frames <- incoming{frame: f, err: err}:
		case <-c.stop:
		}
	})

	return c
}

// Session returns the client-side session record.
func (c *Client) Session() *session.SessionData {
	return c.sess
}

// Login connects, announces userName and runs the authentication
// conversation until the server reports the result.
//
// Returns:
//   - nil once the server accepted and proved knowledge of the password
//   - ErrLoginRejected, ErrAuthRejected, ErrServerUnproven, ErrDisconnected,
//     a session auth error or the context error otherwise
func (c *Client) Login(ctx context.Context, userName, password string) error {
	if err := c.tcp.Connect(ctx); err != nil {
		return err
	}
	c.sess.SetClientAddr(c.tcp.RemoteAddr())

	if err := c.send(FrameHello, []byte(userName)); err != nil {
		return err
	}
	c.sess.SetState(session.StateAuthenticating)

	ack, err := c.expect(ctx, FrameHelloAck)
	if err != nil {
		return err
	}

	mechName := string(ack.Payload)
	if err := c.sess.CreateAuthSessionWith(c.mech, mechName, false, userName, password); err != nil {
		return err
	}

	first, err := c.sess.AuthStep(1, nil)
	if err != nil {
		return err
	}
	if err := c.send(FrameAuthData, first); err != nil {
		return err
	}

	for {
		f, err := c.next(ctx)
		if err != nil {
			return err
		}

		switch f.Type {
		case FrameAuthData:
			if !c.sess.HasAuthSession() {
				return fmt.Errorf("%w: %s after completion", ErrUnexpectedFrame, f.Type)
			}

			out, err := c.sess.AuthStep(c.sess.CurrentAuthStep()+1, f.Payload)
			if err != nil {
				return err
			}
			if c.sess.HasAuthSession() {
				if err := c.send(FrameAuthData, out); err != nil {
					return err
				}
			}

		case FrameAuthResult:
			if !resultOK(f) {
				c.sess.ClearAuthSession()
				return ErrAuthRejected
			}
			if c.sess.HasAuthSession() {
				c.sess.ClearAuthSession()
				return ErrServerUnproven
			}

			c.sess.SetState(session.StateEstablished)
			c.log.Info("logged in", logger.Field{Key: "player", Value: userName})
			return nil

		default:
			return fmt.Errorf("%w: %s from server", ErrUnexpectedFrame, f.Type)
		}
	}
}

// Close disconnects and destroys the client session record.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	err := c.tcp.Close()
	c.sess.Close()
	return err
}

// expect waits for a frame of type want. An AuthResult instead means the
// server refused the login.
func (c *Client) expect(ctx context.Context, want FrameType) (Frame, error) {
	f, err := c.next(ctx)
	if err != nil {
		return Frame{}, err
	}

	switch f.Type {
	case want:
		return f, nil
	case FrameAuthResult:
		return Frame{}, ErrLoginRejected
	default:
		return Frame{}, fmt.Errorf("%w: %s, want %s", ErrUnexpectedFrame, f.Type, want)
	}
}

func (c *Client) next(ctx context.Context) (Frame, error) {
	// Frames already delivered win over a concurrent disconnect.
	select {
	case in := <-c.frames:
		return in.frame, in.err
	default:
	}

	select {
	case in := <-c.frames:
		return in.frame, in.err
	case <-c.tcp.Done():
		select {
		case in := <-c.frames:
			return in.frame, in.err
		default:
			return Frame{}, ErrDisconnected
		}
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *Client) send(t FrameType, payload []byte) error {
	out, err := EncodeFrame(t, payload)
	if err != nil {
		return err
	}

	return c.tcp.Send(out)
}

func resultOK(f Frame) bool {
	return len(f.Payload) == 1 && f.Payload[0] == 1
}
