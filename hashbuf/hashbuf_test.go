package hashbuf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMD5Buf_ZeroValue(t *testing.T) {
	var b MD5Buf
	assert.True(t, b.IsZero())
	assert.Equal(t, strings.Repeat("00", MD5Size), b.String())
	assert.Equal(t, MD5Size, b.Size())
	assert.Len(t, b.Data(), MD5Size)
}

func TestSHA1Buf_String(t *testing.T) {
	t.Run("renders lowercase hex two digits per byte", func(t *testing.T) {
		var b SHA1Buf
		for i := range b {
			b[i] = byte(i * 13)
		}

		s := b.String()
		assert.Len(t, s, 2*SHA1Size)
		assert.Equal(t, "000d1a2734414e5b6875828f9ca9b6c3d0ddeaf7", s)
	})

	t.Run("high nibbles are not dropped", func(t *testing.T) {
		b := SHA1Buf{0xff, 0x0f, 0xf0}
		assert.True(t, strings.HasPrefix(b.String(), "ff0ff0"))
	})
}

func TestFromString(t *testing.T) {
	t.Run("round trips through String", func(t *testing.T) {
		var src SHA1Buf
		for i := range src {
			src[i] = byte(255 - i)
		}

		var dst SHA1Buf
		require.True(t, dst.FromString(src.String()))
		assert.Equal(t, src, dst)
	})

	t.Run("accepts upper case digits", func(t *testing.T) {
		var b MD5Buf
		require.True(t, b.FromString("D41D8CD98F00B204E9800998ECF8427E"))
		assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", b.String())
	})

	t.Run("rejects every length except twice the size", func(t *testing.T) {
		valid := strings.Repeat("ab", MD5Size)
		for _, n := range []int{0, 1, 2*MD5Size - 1, 2*MD5Size + 1, 2 * SHA1Size} {
			text := strings.Repeat("a", n)
			if n <= len(valid) {
				text = valid[:n]
			}

			var b MD5Buf
			assert.False(t, b.FromString(text), "length %d", n)
		}
	})

	t.Run("rejects invalid characters", func(t *testing.T) {
		var b MD5Buf
		assert.False(t, b.FromString("zz"+strings.Repeat("00", MD5Size-1)))
		assert.False(t, b.FromString(strings.Repeat("00", MD5Size-1)+"0g"))
	})

	t.Run("stops at the first invalid pair leaving earlier bytes written", func(t *testing.T) {
		var b MD5Buf
		text := "1122" + "x0" + strings.Repeat("33", MD5Size-3)
		assert.False(t, b.FromString(text))
		assert.Equal(t, byte(0x11), b[0])
		assert.Equal(t, byte(0x22), b[1])
		assert.Equal(t, byte(0), b[2])
		assert.Equal(t, byte(0), b[3])
	})
}

func TestIsZero(t *testing.T) {
	var b SHA1Buf
	assert.True(t, b.IsZero())

	for i := range b {
		c := b
		c[i] = 1
		assert.False(t, c.IsZero(), "byte %d", i)
	}
}

func TestEqual(t *testing.T) {
	a := MD5Buf{1, 2, 3}
	b := MD5Buf{1, 2, 3}
	c := MD5Buf{1, 2, 4}

	assert.True(t, a.Equal(&b))
	assert.False(t, a.Equal(&c))
	assert.False(t, a.Equal(nil))

	t.Run("different sizes are never equal", func(t *testing.T) {
		var m MD5Buf
		var s SHA1Buf
		assert.False(t, m.Equal(&s))
		assert.False(t, s.Equal(&m))
	})
}

func TestCompare(t *testing.T) {
	t.Run("equal length buffers order lexicographically", func(t *testing.T) {
		a := SHA1Buf{0x01}
		b := SHA1Buf{0x02}
		assert.Equal(t, -1, a.Compare(&b))
		assert.Equal(t, 1, b.Compare(&a))
		assert.Equal(t, 0, a.Compare(&a))
		assert.True(t, a.Less(&b))
		assert.False(t, b.Less(&a))
	})

	t.Run("equal iff compare is zero for equal lengths", func(t *testing.T) {
		pairs := [][2]MD5Buf{
			{{}, {}},
			{{1}, {1}},
			{{1}, {2}},
			{{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, {}},
		}
		for _, p := range pairs {
			a, b := p[0], p[1]
			assert.Equal(t, a.Equal(&b), a.Compare(&b) == 0)
		}
	})

	t.Run("different lengths compare over the shorter prefix", func(t *testing.T) {
		var m MD5Buf
		var s SHA1Buf
		for i := range m {
			m[i] = byte(i)
			s[i] = byte(i)
		}
		s[MD5Size] = 0xff

		// Only the first 16 bytes are compared, so the trailing SHA-1
		// bytes are ignored and the buffers order as equal even though
		// Equal reports false.
		assert.Equal(t, 0, m.Compare(&s))
		assert.Equal(t, 0, s.Compare(&m))
		assert.False(t, m.Equal(&s))

		m[0] = 0xff
		assert.Equal(t, 1, m.Compare(&s))
		assert.Equal(t, -1, s.Compare(&m))
	})
}
