package crypthelper

import "errors"

// Crypt helper errors.
var (
	// ErrEmptyKey is returned when an encryption secret is empty.
	ErrEmptyKey = errors.New("crypthelper: empty key")

	// ErrEmptyInput is returned when there is nothing to encrypt or decrypt.
	ErrEmptyInput = errors.New("crypthelper: empty input")

	// ErrShortPlaintext is returned when the plaintext does not fill a single
	// cipher block, in which case the initial encryption step produces no
	// output and the legacy scheme treats the operation as failed.
	ErrShortPlaintext = errors.New("crypthelper: plaintext shorter than one block")

	// ErrCiphertextSize is returned when a ciphertext is not a positive
	// multiple of the block size.
	ErrCiphertextSize = errors.New("crypthelper: invalid ciphertext size")

	// ErrBadPadding is returned when decrypted data carries invalid padding.
	ErrBadPadding = errors.New("crypthelper: invalid padding")

	// ErrMACSize is returned when a computed MAC has an unexpected length.
	ErrMACSize = errors.New("crypthelper: unexpected mac size")
)
