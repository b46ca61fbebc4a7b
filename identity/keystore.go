// Package identity is the default signing capability a node plugs into the
// engine's wire.SignFunc / wire.VerifyFunc black box (spec §1 "Out of
// scope: key management"): an Ed25519 keypair plus a JSON keystore file,
// grounded on the teacher's node/keymgr.go KeyStoreV1 shape.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"tinyssb.dev/node/wire"
)

const keystoreVersion = "TSBKSv1"

// KeyStoreV1 is the on-disk JSON shape a keystore file is persisted as,
// adapted from the teacher's ML-DSA-oriented KeyStoreV1 to a single
// Ed25519 keypair.
type KeyStoreV1 struct {
	Version    string `json:"version"`
	PubkeyHex  string `json:"pubkey_hex"`
	KeyIDHex   string `json:"key_id_hex"`
	PrivkeyHex string `json:"privkey_hex"`
}

// KeyPair is the default sign/verify capability: an Ed25519 keypair whose
// public half is used directly as a feed's fid (spec §4.A).
type KeyPair struct {
	Pub  wire.FID
	priv ed25519.PrivateKey
}

// Generate creates a fresh Ed25519 keypair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, wrapErr(ErrGenerate, "ed25519 keygen", err)
	}
	kp := &KeyPair{priv: priv}
	copy(kp.Pub[:], pub)
	return kp, nil
}

// Sign returns a wire.SignFunc closed over this keypair's private key.
func (kp *KeyPair) Sign() wire.SignFunc {
	priv := kp.priv
	return func(msg []byte) [wire.SignatureLen]byte {
		var out [wire.SignatureLen]byte
		copy(out[:], ed25519.Sign(priv, msg))
		return out
	}
}

// Verify is stateless: every fid embeds its own Ed25519 public key, so one
// VerifyFunc serves every feed regardless of which keypair produced it.
func Verify() wire.VerifyFunc {
	return func(fid wire.FID, msg []byte, sig [wire.SignatureLen]byte) bool {
		return ed25519.Verify(ed25519.PublicKey(fid[:]), msg, sig[:])
	}
}

// KeyID is a stable identifier for a public key, independent of its fid
// encoding, used as a guard against keystore corruption.
func KeyID(pub wire.FID) [32]byte {
	return sha3.Sum256(pub[:])
}

// Save persists kp to path as a KeyStoreV1 JSON document.
func (kp *KeyPair) Save(path string) error {
	keyID := KeyID(kp.Pub)
	ks := KeyStoreV1{
		Version:    keystoreVersion,
		PubkeyHex:  hex.EncodeToString(kp.Pub[:]),
		KeyIDHex:   hex.EncodeToString(keyID[:]),
		PrivkeyHex: hex.EncodeToString(kp.priv),
	}
	b, err := json.Marshal(ks)
	if err != nil {
		return wrapErr(ErrIO, "marshal keystore", err)
	}
	b = append(b, '\n')
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return wrapErr(ErrIO, "write keystore", err)
	}
	return nil
}

// Load reads a KeyStoreV1 JSON document back into a KeyPair, rejecting an
// unsupported version or a key_id that doesn't match the embedded pubkey.
func Load(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapErr(ErrIO, "read keystore", err)
	}
	var ks KeyStoreV1
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, wrapErr(ErrIO, "parse keystore", err)
	}
	if ks.Version != keystoreVersion {
		return nil, newErr(ErrBadVersion, "unsupported keystore version: "+ks.Version)
	}
	priv, err := hex.DecodeString(ks.PrivkeyHex)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, newErr(ErrBadKeystore, "malformed privkey_hex")
	}
	pub, err := hex.DecodeString(ks.PubkeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, newErr(ErrBadKeystore, "malformed pubkey_hex")
	}
	kp := &KeyPair{priv: ed25519.PrivateKey(priv)}
	copy(kp.Pub[:], pub)
	keyID := KeyID(kp.Pub)
	if ks.KeyIDHex != "" && hex.EncodeToString(keyID[:]) != ks.KeyIDHex {
		return nil, newErr(ErrKeyIDMismatch, "keystore key_id mismatch")
	}
	return kp, nil
}

// ExportBackupSeed derives a deterministic 32-byte backup seed from the
// keypair's private seed via HKDF-SHA3-256, keyed by an operator-chosen
// label. This is an operator convenience (spec §9 supplemented features):
// it never reproduces the live signing key and is only ever used to seed an
// offline backup of dependent feed keys.
func ExportBackupSeed(kp *KeyPair, label string) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha3.New256, kp.priv.Seed(), nil, []byte(label))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, wrapErr(ErrDerive, "hkdf export", err)
	}
	return out, nil
}
