// Package crypthelper provides the digest, MAC and symmetric encryption
// helpers used by the lobby server. All functions are stateless and safe for
// concurrent use.
package crypthelper

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"io"
	"os"

	"github.com/cyberinferno/go-lobby/hashbuf"
)

// fileChunkSize is the read size used when hashing files.
const fileChunkSize = 8192

// MD5Sum computes the MD5 digest of the named file, reading it in fixed-size
// chunks. The file is closed before returning.
//
// Parameters:
//   - fileName: Path of the file to hash
//
// Returns:
//   - The digest of the whole file
//   - An error if the file cannot be opened or a read fails; the digest must
//     not be used in that case
func MD5Sum(fileName string) (hashbuf.MD5Buf, error) {
	var buf hashbuf.MD5Buf

	file, err := os.Open(fileName)
	if err != nil {
		return buf, fmt.Errorf("crypthelper: open %s: %w", fileName, err)
	}
	defer func() {
		_ = file.Close()
	}()

	h := md5.New()
	chunk := make([]byte, fileChunkSize)
	for {
		n, err := file.Read(chunk)
		if n > 0 {
			h.Write(chunk[:n])
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			return buf, fmt.Errorf("crypthelper: read %s: %w", fileName, err)
		}
	}

	copy(buf[:], h.Sum(nil))
	return buf, nil
}

// MD5Hash computes the MD5 digest of data.
func MD5Hash(data []byte) hashbuf.MD5Buf {
	return hashbuf.MD5Buf(md5.Sum(data))
}

// SHA1Hash computes the SHA-1 digest of data. Empty input is valid.
func SHA1Hash(data []byte) hashbuf.SHA1Buf {
	return hashbuf.SHA1Buf(sha1.Sum(data))
}

// HMACSHA1 computes the HMAC-SHA1 of data under key.
//
// Parameters:
//   - key: The MAC key; any length, including empty
//   - data: The message to authenticate
//
// Returns:
//   - The 20-byte MAC
//   - ErrMACSize if the MAC does not have the SHA-1 digest length
func HMACSHA1(key, data []byte) (hashbuf.SHA1Buf, error) {
	var buf hashbuf.SHA1Buf

	mac := hmac.New(sha1.New, key)
	mac.Write(data)
	sum := mac.Sum(nil)
	if len(sum) != len(buf) {
		return buf, ErrMACSize
	}

	copy(buf[:], sum)
	return buf, nil
}
