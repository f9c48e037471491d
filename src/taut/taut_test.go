package taut

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/taut-ln/taut/src/config"
	"github.com/taut-ln/taut/src/crypto/keys"
	"github.com/taut-ln/taut/src/lightning"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	conf := config.NewTestConfig(t, logrus.ErrorLevel)
	conf.DataDir = t.TempDir()
	conf.Secret = "cluster secret"
	conf.BindAddr = "127.0.0.1:0"
	conf.NoService = true
	conf.LightningNodes = []lightning.Credentials{
		{Type: "cln-rest", Socket: "localhost:3001"},
	}

	return conf
}

func TestInitRequiresSecret(t *testing.T) {
	conf := testConfig(t)
	conf.Secret = ""

	if err := NewTaut(conf).Init(); err == nil {
		t.Fatal("an empty secret should fail Init")
	}
}

func TestInitRequiresLightningNodes(t *testing.T) {
	conf := testConfig(t)
	conf.LightningNodes = nil

	if err := NewTaut(conf).Init(); err == nil {
		t.Fatal("a config without lightning nodes should fail Init")
	}
}

func TestInitRejectsUnknownNodeType(t *testing.T) {
	conf := testConfig(t)
	conf.LightningNodes = []lightning.Credentials{{Type: "eclair"}}

	if err := NewTaut(conf).Init(); err == nil {
		t.Fatal("an unknown lightning implementation should fail Init")
	}
}

func TestInitSeedsAddressBook(t *testing.T) {
	conf := testConfig(t)

	engine := NewTaut(conf)
	engine.initPeers()

	if _, err := os.Stat(filepath.Join(conf.DataDir, "peers.json")); err != nil {
		t.Fatal("a first run should seed an empty peers.json")
	}

	known, err := engine.Peers.Peers()
	if err != nil {
		t.Fatal(err)
	}
	if len(known) != 0 {
		t.Fatalf("the seeded address book should be empty, got %v", known)
	}
}

func TestInitKeyIsStable(t *testing.T) {
	conf := testConfig(t)
	engine := NewTaut(conf)

	first, err := engine.initKey(0)
	if err != nil {
		t.Fatal(err)
	}

	second, err := engine.initKey(0)
	if err != nil {
		t.Fatal(err)
	}

	if keys.PublicKeyHex(&first.PublicKey) != keys.PublicKeyHex(&second.PublicKey) {
		t.Fatal("initKey should reuse the key it wrote on first run")
	}
}

func TestPerNodeKeyfilesDiffer(t *testing.T) {
	conf := testConfig(t)
	engine := NewTaut(conf)

	first, err := engine.initKey(0)
	if err != nil {
		t.Fatal(err)
	}

	second, err := engine.initKey(1)
	if err != nil {
		t.Fatal(err)
	}

	if keys.PublicKeyHex(&first.PublicKey) == keys.PublicKeyHex(&second.PublicKey) {
		t.Fatal("each local node should present its own overlay identity")
	}
}

func TestOffsetPort(t *testing.T) {
	for _, tt := range []struct {
		addr     string
		n        int
		expected string
	}{
		{"127.0.0.1:1337", 0, "127.0.0.1:1337"},
		{"127.0.0.1:1337", 2, "127.0.0.1:1339"},
		{"[::1]:1337", 1, "[::1]:1338"},
	} {
		got, err := offsetPort(tt.addr, tt.n)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.expected {
			t.Fatalf("offsetPort(%s, %d) = %s, expected %s", tt.addr, tt.n, got, tt.expected)
		}
	}
}
