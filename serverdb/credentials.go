package serverdb

import (
	"encoding/json"
	"fmt"

	"github.com/cyberinferno/go-lobby/crypthelper"
)

// credentials is the plaintext of a stored credential blob. The name is
// included so a blob copied onto another player does not decrypt to a
// usable password for that player.
type credentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func sealCredentials(key []byte, name, password string) ([]byte, error) {
	plain, err := json.Marshal(credentials{Name: name, Password: password})
	if err != nil {
		return nil, err
	}

	blob, err := crypthelper.AES128Encrypt(key, plain)
	if err != nil {
		return nil, fmt.Errorf("serverdb: seal credentials: %w", err)
	}

	return blob, nil
}

func openCredentials(key, blob []byte, name string) (string, error) {
	plain, err := crypthelper.AES128Decrypt(key, blob)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	var creds credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	if creds.Name != name {
		return "", fmt.Errorf("%w: blob belongs to %q", ErrCorruptRecord, creds.Name)
	}

	return creds.Password, nil
}
