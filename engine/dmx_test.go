package engine

import "testing"

func TestDeriveRequestDmxDistinguishesTagsAndState(t *testing.T) {
	var s1, s2 [32]byte
	s1[0] = 0x01
	s2[0] = 0x02

	want1 := wantDmxFor(s1)
	chnk1 := chnkDmxFor(s1)
	if want1 == chnk1 {
		t.Fatalf("want/chnk dmx collide for the same state: %x", want1)
	}

	want2 := wantDmxFor(s2)
	if want1 == want2 {
		t.Fatalf("want dmx identical across differing states")
	}

	if wantDmxFor(s1) != want1 {
		t.Fatalf("derivation is not deterministic")
	}
}
