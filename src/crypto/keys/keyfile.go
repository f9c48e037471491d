package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"os"
	"strings"
)

// SimpleKeyfile reads and writes a private key to a text file as a hex
// string.
type SimpleKeyfile struct {
	l string
}

// NewSimpleKeyfile returns a keyfile at the given location.
func NewSimpleKeyfile(location string) *SimpleKeyfile {
	return &SimpleKeyfile{l: location}
}

// ReadKey parses the private key from the keyfile.
func (k *SimpleKeyfile) ReadKey() (*ecdsa.PrivateKey, error) {
	buf, err := os.ReadFile(k.l)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(buf)))
	if err != nil {
		return nil, err
	}

	return ParsePrivateKey(raw)
}

// WriteKey stores the private key in the keyfile.
func (k *SimpleKeyfile) WriteKey(key *ecdsa.PrivateKey) error {
	return os.WriteFile(k.l, []byte(hex.EncodeToString(DumpPrivateKey(key))), 0600)
}
