package crypto

import "testing"

func TestSignVectors(t *testing.T) {
	ts := int64(1648741762439)
	peer := "5rRSNhSbbffXYW6uh9XmzH7CVkeWzzKUSfN4NAC4ojbf"

	testCases := []struct {
		params   Params
		expected string
	}{
		{nil, "c3dfb60ae5688a56c637081659968910ff975d76545382b77d0053c5497b3d72"},
		{Params{}, "c3dfb60ae5688a56c637081659968910ff975d76545382b77d0053c5497b3d72"},
		{Params{"test": "bob"}, "c0772207f745250f82b0afe0d215fb0b1b57e0accf143080831f81cec0249e33"},
		{Params{"test": "bob", "abc": "123.4"}, "b9251a24783fe114d5086aab709448e1d557ca6d241facf5da27c95597da140b"},
	}

	for i, tc := range testCases {
		if sig := Sign("secret", ts, peer, tc.params); sig != tc.expected {
			t.Fatalf("vector %d: signature should be %s, not %s", i, tc.expected, sig)
		}
		if !Verify("secret", ts, peer, tc.params, tc.expected) {
			t.Fatalf("vector %d: signature should verify", i)
		}
	}
}

func TestSignatureIntegrity(t *testing.T) {
	ts := int64(1648741762439)
	peer := "5rRSNhSbbffXYW6uh9XmzH7CVkeWzzKUSfN4NAC4ojbf"
	params := Params{"test": "bob"}

	sig := Sign("secret", ts, peer, params)

	if Verify("secret", ts, peer, Params{"test": "alice"}, sig) {
		t.Fatal("altering a field should break the signature")
	}
	if Verify("secret", ts, peer, Params{"test": "bob", "extra": "x"}, sig) {
		t.Fatal("adding a field should break the signature")
	}
	if Verify("secret", ts+1, peer, params, sig) {
		t.Fatal("altering the timestamp should break the signature")
	}
	if Verify("secret", ts, "someone-else", params, sig) {
		t.Fatal("altering the sender should break the signature")
	}
	if Verify("other-secret", ts, peer, params, sig) {
		t.Fatal("a different secret should break the signature")
	}
}

func TestTopicDerivation(t *testing.T) {
	a := Topic("secret")
	b := Topic("secret")
	c := Topic("other")

	if a != b {
		t.Fatal("the same secret should derive the same topic")
	}
	if a == c {
		t.Fatal("different secrets should derive different topics")
	}
	if len(a) != 64 {
		t.Fatalf("topic should be a hex encoded SHA256, got %d chars", len(a))
	}
}
