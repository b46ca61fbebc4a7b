package store

import (
	"crypto/ed25519"
	"testing"

	"tinyssb.dev/node/wire"
)

func testIdentity(t *testing.T) (wire.FID, wire.SignFunc, wire.VerifyFunc) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var fid wire.FID
	copy(fid[:], pub)
	sign := func(msg []byte) [wire.SignatureLen]byte {
		var out [wire.SignatureLen]byte
		copy(out[:], ed25519.Sign(priv, msg))
		return out
	}
	verify := func(f wire.FID, msg []byte, sig [wire.SignatureLen]byte) bool {
		return ed25519.Verify(f[:], msg, sig[:])
	}
	return fid, sign, verify
}
