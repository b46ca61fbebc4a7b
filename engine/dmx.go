package engine

import (
	"crypto/sha256"

	"tinyssb.dev/node/wire"
)

const (
	wantTag = "want"
	chnkTag = "blob"
)

// deriveRequestDmx computes the 7-byte dmx a WANT or CHNK request vector is
// framed under: sha256(wire.Prefix ‖ tag ‖ goset-state)[:7] (spec §4.F "DMX
// derivation on GOset state change"). Both request kinds key off the same
// GOset XOR state so every peer re-arms in lockstep as the known feed set
// changes.
func deriveRequestDmx(tag string, state [32]byte) wire.DMX {
	h := sha256.New()
	h.Write([]byte(wire.Prefix))
	h.Write([]byte(tag))
	h.Write(state[:])
	var out wire.DMX
	copy(out[:], h.Sum(nil)[:wire.DmxLen])
	return out
}

func wantDmxFor(state [32]byte) wire.DMX { return deriveRequestDmx(wantTag, state) }
func chnkDmxFor(state [32]byte) wire.DMX { return deriveRequestDmx(chnkTag, state) }
