package keys

import (
	"path/filepath"
	"testing"
)

func TestDumpParseRoundTrip(t *testing.T) {
	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParsePrivateKey(DumpPrivateKey(key))
	if err != nil {
		t.Fatal(err)
	}

	if PublicKeyHex(&parsed.PublicKey) != PublicKeyHex(&key.PublicKey) {
		t.Fatal("parsed key should derive the same public key")
	}
}

func TestKeyfile(t *testing.T) {
	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	keyfile := NewSimpleKeyfile(filepath.Join(t.TempDir(), "priv_key"))

	if err := keyfile.WriteKey(key); err != nil {
		t.Fatal(err)
	}

	read, err := keyfile.ReadKey()
	if err != nil {
		t.Fatal(err)
	}

	if PublicKeyHex(&read.PublicKey) != PublicKeyHex(&key.PublicKey) {
		t.Fatal("keyfile should round-trip the key")
	}
}
