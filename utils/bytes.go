// Package utils provides byte slice helpers shared by the crypto and
// authentication packages.
package utils

// JoinBytes concatenates the given byte slices into a newly allocated slice.
// The inputs are never aliased by the result.
//
// Parameters:
//   - s: Zero or more byte slices to concatenate
//
// Returns:
//   - A new byte slice containing all input slices in order
func JoinBytes(s ...[]byte) []byte {
	n := 0
	for _, v := range s {
		n += len(v)
	}

	b, i := make([]byte, n), 0
	for _, v := range s {
		i += copy(b[i:], v)
	}

	return b
}

// Wipe overwrites b with zeros. It is used to clear key material and
// credentials once they are no longer needed.
//
// Parameters:
//   - b: The slice to clear in place; nil is allowed
func Wipe(b []byte) {
	clear(b)
}

// CloneBytes returns a copy of b, or nil when b is nil.
//
// Parameters:
//   - b: The slice to copy
//
// Returns:
//   - A new slice with the same content, or nil
func CloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)
	return out
}
