package sasl

import (
	"crypto/rand"
	"fmt"

	"github.com/cyberinferno/go-lobby/utils"
	"github.com/xdg-go/scram"
)

const (
	// DefaultIterations is the PBKDF2 iteration count used for server-side
	// stored credentials. SCRAM clients reject anything lower.
	DefaultIterations = 4096

	defaultSaltSize = 16
)

// Context implements Mechanism for the SCRAM family on top of
// github.com/xdg-go/scram.
type Context struct {
	iterations int
	saltSize   int
	nonceGen   scram.NonceGeneratorFcn
}

// Option configures a Context.
type Option func(*Context)

// WithIterations sets the iteration count for server-side credentials.
//
// Parameters:
//   - n: Iteration count; values below DefaultIterations make ServerStart fail
func WithIterations(n int) Option {
	return func(c *Context) {
		c.iterations = n
	}
}

// WithNonceGenerator replaces the random nonce source of both roles.
func WithNonceGenerator(fn func() string) Option {
	return func(c *Context) {
		c.nonceGen = fn
	}
}

// NewContext creates a SCRAM mechanism context.
//
// Parameters:
//   - opts: Optional settings such as WithIterations
//
// Returns:
//   - A Context ready to start conversations
func NewContext(opts ...Option) *Context {
	c := &Context{
		iterations: DefaultIterations,
		saltSize:   defaultSaltSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Mechanisms returns the mechanism names this context can start.
func (c *Context) Mechanisms() []string {
	return []string{MechSCRAMSHA1, MechSCRAMSHA256}
}

// ClientStart begins a client-role conversation. The first Step call takes
// no input and produces the client-first message.
//
// Parameters:
//   - name: Mechanism name, e.g. MechSCRAMSHA1
//   - authID: User name presented to the server
//   - password: The user's password
//
// Returns:
//   - The new conversation
//   - ErrUnknownMechanism, ErrMissingCredentials or a SASLprep error
func (c *Context) ClientStart(name, authID, password string) (Conversation, error) {
	client, err := c.newClient(name, authID, password)
	if err != nil {
		return nil, err
	}

	if c.nonceGen != nil {
		client = client.WithNonceGenerator(c.nonceGen)
	}

	return &conversation{conv: client.NewConversation()}, nil
}

// ServerStart begins a server-role conversation that accepts only authID
// with the given password. Stored credentials are derived on the spot with a
// fresh random salt.
//
// Parameters:
//   - name: Mechanism name, e.g. MechSCRAMSHA1
//   - authID: The only user name this conversation accepts
//   - password: The expected password
//
// Returns:
//   - The new conversation
//   - ErrUnknownMechanism, ErrMissingCredentials, ErrIterationsTooLow or a setup error
func (c *Context) ServerStart(name, authID, password string) (Conversation, error) {
	if c.iterations < DefaultIterations {
		return nil, ErrIterationsTooLow
	}

	hashGen, err := hashFor(name)
	if err != nil {
		return nil, err
	}

	client, err := c.newClient(name, authID, password)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, c.saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("sasl: generate salt: %w", err)
	}

	creds := client.GetStoredCredentials(scram.KeyFactors{Salt: string(salt), Iters: c.iterations})
	conv := &conversation{creds: &creds}
	server, err := hashGen.NewServer(func(user string) (scram.StoredCredentials, error) {
		switch {
		case conv.creds == nil:
			return scram.StoredCredentials{}, ErrConversationClosed
		case user != authID:
			return scram.StoredCredentials{}, ErrUnknownUser
		}

		return *conv.creds, nil
	})
	if err != nil {
		return nil, fmt.Errorf("sasl: start server: %w", err)
	}

	if c.nonceGen != nil {
		server = server.WithNonceGenerator(c.nonceGen)
	}

	conv.conv = server.NewConversation()
	return conv, nil
}

func (c *Context) newClient(name, authID, password string) (*scram.Client, error) {
	hashGen, err := hashFor(name)
	if err != nil {
		return nil, err
	}

	if authID == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	client, err := hashGen.NewClient(authID, password, "")
	if err != nil {
		return nil, fmt.Errorf("sasl: start client: %w", err)
	}

	return client, nil
}

func hashFor(name string) (scram.HashGeneratorFcn, error) {
	switch name {
	case MechSCRAMSHA1:
		return scram.SHA1, nil
	case MechSCRAMSHA256:
		return scram.SHA256, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMechanism, name)
	}
}

// stepper is satisfied by both scram.ClientConversation and
// scram.ServerConversation.
type stepper interface {
	Step(string) (string, error)
	Done() bool
}

type conversation struct {
	conv stepper
	// creds holds the server role's derived keys.
	creds *scram.StoredCredentials
}

func (c *conversation) Step(in []byte) ([]byte, bool, error) {
	if c.conv == nil {
		return nil, false, ErrConversationClosed
	}

	out, err := c.conv.Step(string(in))
	return []byte(out), c.conv.Done(), err
}

// Finish drops the exchange and zeroes the server role's stored and server
// keys. The password strings given to Start cannot be cleared.
func (c *conversation) Finish() {
	if c.creds != nil {
		utils.Wipe(c.creds.StoredKey)
		utils.Wipe(c.creds.ServerKey)
		c.creds = nil
	}
	c.conv = nil
}
