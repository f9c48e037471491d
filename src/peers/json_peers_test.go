package peers

import "testing"

func TestJSONPeers(t *testing.T) {
	dir := t.TempDir()

	store := NewJSONPeers(dir)

	if _, err := store.Peers(); err == nil {
		t.Fatal("reading a missing peers.json should fail")
	}

	keysPeers := []*Peer{
		NewPeer("127.0.0.1:9991"),
		NewPeer("127.0.0.1:9992"),
		NewPeer("127.0.0.1:9993"),
	}

	if err := store.SetPeers(keysPeers); err != nil {
		t.Fatal(err)
	}

	recovered, err := store.Peers()
	if err != nil {
		t.Fatal(err)
	}

	if len(recovered) != len(keysPeers) {
		t.Fatalf("should recover %d peers, not %d", len(keysPeers), len(recovered))
	}

	for i, p := range recovered {
		if p.NetAddr != keysPeers[i].NetAddr {
			t.Fatalf("peer %d should be %s, not %s", i, keysPeers[i].NetAddr, p.NetAddr)
		}
	}
}
