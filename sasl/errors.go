package sasl

import "errors"

var (
	// ErrUnknownMechanism is a mechanism name the Context does not support.
	ErrUnknownMechanism = errors.New("sasl: unknown mechanism")
	// ErrMissingCredentials is an empty authentication id or password.
	ErrMissingCredentials = errors.New("sasl: missing credentials")
	// ErrUnknownUser is a client naming a user other than the one the server
	// conversation was started for.
	ErrUnknownUser = errors.New("sasl: unknown user")
	// ErrConversationClosed is a Step after Finish.
	ErrConversationClosed = errors.New("sasl: conversation finished")
	// ErrIterationsTooLow is an iteration count below the SCRAM minimum.
	ErrIterationsTooLow = errors.New("sasl: iteration count below minimum")
)
