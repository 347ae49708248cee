// Package hashbuf provides fixed-size digest buffers for MD5 and SHA-1 output
// together with the lowercase hex encoding used to store and transmit them.
package hashbuf

import "bytes"

const (
	// MD5Size is the length of an MD5 digest in bytes.
	MD5Size = 16

	// SHA1Size is the length of a SHA-1 digest in bytes.
	SHA1Size = 20
)

const hexDigits = "0123456789abcdef"

// HashBuf is implemented by every digest buffer in this package. Data exposes
// the underlying bytes of the buffer; writing to the returned slice through a
// pointer receiver mutates the digest.
type HashBuf interface {
	// Data returns the digest bytes.
	Data() []byte

	// Size returns the fixed digest length in bytes.
	Size() int
}

// MD5Buf holds an MD5 digest. The zero value is the all-zero digest.
type MD5Buf [MD5Size]byte

// SHA1Buf holds a SHA-1 digest. The zero value is the all-zero digest.
type SHA1Buf [SHA1Size]byte

// Data implements HashBuf. The returned slice aliases b when b is addressable.
func (b *MD5Buf) Data() []byte { return b[:] }

// Size implements HashBuf.
func (b *MD5Buf) Size() int { return MD5Size }

// String returns the digest as lowercase hex, two characters per byte.
func (b MD5Buf) String() string { return toHex(b[:]) }

// FromString parses text into b. See parseHex for the exact rules.
func (b *MD5Buf) FromString(text string) bool { return parseHex(b[:], text) }

// IsZero reports whether every byte of the digest is zero.
func (b MD5Buf) IsZero() bool { return isZero(b[:]) }

// Equal reports whether other has the same length and content.
func (b MD5Buf) Equal(other HashBuf) bool { return equal(b[:], other) }

// Compare orders b against other. See compare for the length rule.
func (b MD5Buf) Compare(other HashBuf) int { return compare(b[:], other) }

// Less reports whether b sorts before other.
func (b MD5Buf) Less(other HashBuf) bool { return compare(b[:], other) < 0 }

// Data implements HashBuf. The returned slice aliases b when b is addressable.
func (b *SHA1Buf) Data() []byte { return b[:] }

// Size implements HashBuf.
func (b *SHA1Buf) Size() int { return SHA1Size }

// String returns the digest as lowercase hex, two characters per byte.
func (b SHA1Buf) String() string { return toHex(b[:]) }

// FromString parses text into b. See parseHex for the exact rules.
func (b *SHA1Buf) FromString(text string) bool { return parseHex(b[:], text) }

// IsZero reports whether every byte of the digest is zero.
func (b SHA1Buf) IsZero() bool { return isZero(b[:]) }

// Equal reports whether other has the same length and content.
func (b SHA1Buf) Equal(other HashBuf) bool { return equal(b[:], other) }

// Compare orders b against other. See compare for the length rule.
func (b SHA1Buf) Compare(other HashBuf) int { return compare(b[:], other) }

// Less reports whether b sorts before other.
func (b SHA1Buf) Less(other HashBuf) bool { return compare(b[:], other) < 0 }

func toHex(data []byte) string {
	out := make([]byte, 2*len(data))
	for i, c := range data {
		out[2*i] = hexDigits[c>>4]
		out[2*i+1] = hexDigits[c&0x0f]
	}

	return string(out)
}

func fromHex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}

	return -1
}

// parseHex decodes exactly 2*len(dst) hex characters into dst. Upper case
// digits are accepted. Decoding stops at the first invalid pair; dst keeps
// the bytes written so far and must be discarded by the caller.
func parseHex(dst []byte, text string) bool {
	if len(text) != 2*len(dst) {
		return false
	}

	for i := range dst {
		hi := fromHex(text[2*i])
		if hi < 0 {
			return false
		}

		lo := fromHex(text[2*i+1])
		if lo < 0 {
			return false
		}

		dst[i] = byte(hi<<4 | lo)
	}

	return true
}

func isZero(data []byte) bool {
	for _, c := range data {
		if c != 0 {
			return false
		}
	}

	return true
}

func equal(data []byte, other HashBuf) bool {
	if other == nil || other.Size() != len(data) {
		return false
	}

	return bytes.Equal(data, other.Data())
}

// compare orders two digests byte by byte over the shorter of the two
// lengths. Digests of different sizes that share that prefix compare equal.
func compare(data []byte, other HashBuf) int {
	if other == nil {
		return 1
	}

	o := other.Data()
	n := min(len(data), len(o))
	return bytes.Compare(data[:n], o[:n])
}
