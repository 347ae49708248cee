package crypthelper

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/cyberinferno/go-lobby/utils"
)

// AESBlockSize is the AES block size; AES-128 also uses it as the key size.
const AESBlockSize = aes.BlockSize

// deriveKeyIV derives the AES-128 key and IV from secret with the legacy
// two-round scheme: K1 = SHA1(SHA1(secret)), K2 = SHA1(SHA1(K1 || secret)).
// The key is K1[:16]; the IV is the remaining 4 bytes of K1 followed by the
// first 12 bytes of K2. Data encrypted by older servers depends on this exact
// layout.
func deriveKeyIV(secret []byte) (key, iv [AESBlockSize]byte) {
	tmp1 := SHA1Hash(secret)
	k1 := SHA1Hash(tmp1[:])

	joined := utils.JoinBytes(k1[:], secret)
	tmp2 := SHA1Hash(joined)
	k2 := SHA1Hash(tmp2[:])
	utils.Wipe(joined)

	copy(key[:], k1[:AESBlockSize])
	n := copy(iv[:], k1[AESBlockSize:])
	copy(iv[n:], k2[:])

	utils.Wipe(tmp1[:])
	utils.Wipe(tmp2[:])
	utils.Wipe(k1[:])
	utils.Wipe(k2[:])
	return key, iv
}

// AES128Encrypt encrypts plain with AES-128-CBC and PKCS#7 padding, using a
// key and IV derived from secret (see deriveKeyIV). The output is
// deterministic for a given secret and plaintext.
//
// The whole blocks of plain are encrypted first; if that produces no output
// (plain is shorter than one block) the call fails with ErrShortPlaintext and
// no ciphertext is returned.
//
// Parameters:
//   - secret: The shared secret; must not be empty
//   - plain: The data to encrypt; must not be empty
//
// Returns:
//   - The ciphertext, a whole number of blocks
//   - ErrEmptyKey, ErrEmptyInput, ErrShortPlaintext or a cipher setup error
func AES128Encrypt(secret, plain []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyKey
	}

	if len(plain) == 0 {
		return nil, ErrEmptyInput
	}

	key, iv := deriveKeyIV(secret)
	defer utils.Wipe(key[:])

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypthelper: aes setup: %w", err)
	}

	full := len(plain) / AESBlockSize * AESBlockSize
	if full == 0 {
		return nil, ErrShortPlaintext
	}

	out := make([]byte, len(plain)+AESBlockSize)
	mode := cipher.NewCBCEncrypter(block, iv[:])
	mode.CryptBlocks(out[:full], plain[:full])

	rest := len(plain) - full
	last := out[full : full+AESBlockSize]
	copy(last, plain[full:])
	pad := byte(AESBlockSize - rest)
	for i := rest; i < AESBlockSize; i++ {
		last[i] = pad
	}
	mode.CryptBlocks(last, last)

	return out[:full+AESBlockSize], nil
}

// AES128Decrypt reverses AES128Encrypt using the same key derivation.
//
// Parameters:
//   - secret: The shared secret used for encryption; must not be empty
//   - ciphertext: Output of AES128Encrypt
//
// Returns:
//   - The decrypted plaintext
//   - ErrEmptyKey, ErrEmptyInput, ErrCiphertextSize or ErrBadPadding
func AES128Decrypt(secret, ciphertext []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyKey
	}

	if len(ciphertext) == 0 {
		return nil, ErrEmptyInput
	}

	if len(ciphertext)%AESBlockSize != 0 {
		return nil, ErrCiphertextSize
	}

	key, iv := deriveKeyIV(secret)
	defer utils.Wipe(key[:])

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypthelper: aes setup: %w", err)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, ciphertext)

	pad := int(out[len(out)-1])
	if pad == 0 || pad > AESBlockSize {
		return nil, ErrBadPadding
	}

	for _, c := range out[len(out)-pad:] {
		if int(c) != pad {
			return nil, ErrBadPadding
		}
	}

	return out[:len(out)-pad], nil
}
