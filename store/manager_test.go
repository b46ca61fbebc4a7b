package store

import (
	"bytes"
	"testing"

	"tinyssb.dev/node/wire"
)

func TestMkGenericLogAppendRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fid, sign, verify := testIdentity(t)

	var payload1 [wire.PayloadLen]byte
	copy(payload1[:], []byte("hello world"))
	lh, err := s.MkGenericLog(fid, wire.TypePlain48, payload1, sign, wire.FID{}, 0, verify)
	if err != nil {
		t.Fatalf("MkGenericLog: %v", err)
	}

	seq, mid := lh.Front()
	if seq != 1 {
		t.Fatalf("front seq = %d, want 1", seq)
	}

	var payload2 [wire.PayloadLen]byte
	copy(payload2[:], []byte("second entry"))
	p2, err := wire.EncodeTyped(fid, 2, mid, wire.TypePlain48, payload2[:], sign)
	if err != nil {
		t.Fatalf("encode second entry: %v", err)
	}
	if _, err := lh.Append(p2.Wire); err != nil {
		t.Fatalf("append second entry: %v", err)
	}

	seq, _ = lh.Front()
	if seq != 2 {
		t.Fatalf("front seq after second append = %d, want 2", seq)
	}

	got, err := lh.Read(1)
	if err != nil {
		t.Fatalf("read seq 1: %v", err)
	}
	if !bytes.Equal(got.Payload[:len("hello world")], []byte("hello world")) {
		t.Fatalf("read seq 1 payload mismatch: %q", got.Payload[:len("hello world")])
	}

	if _, err := lh.Read(3); err == nil {
		t.Fatalf("expected ErrNotFound reading beyond front")
	}
}

func TestAppendRejectsWrongPrevMid(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fid, sign, verify := testIdentity(t)

	var payload [wire.PayloadLen]byte
	lh, err := s.MkGenericLog(fid, wire.TypePlain48, payload, sign, wire.FID{}, 0, verify)
	if err != nil {
		t.Fatalf("MkGenericLog: %v", err)
	}

	// Encode against a bogus prev_mid instead of the real front mid.
	bogus, err := wire.EncodeTyped(fid, 2, wire.MID{0x01}, wire.TypePlain48, payload[:], sign)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := lh.Append(bogus.Wire); err == nil {
		t.Fatalf("expected append to reject mismatched prev_mid")
	}
}

func TestMkChildLogProofIsLastTwelveSignatureBytes(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	parentFid, parentSign, verify := testIdentity(t)
	childFid, childSign, _ := testIdentity(t)

	var payload [wire.PayloadLen]byte
	_, err = s.MkGenericLog(parentFid, wire.TypePlain48, payload, parentSign, wire.FID{}, 0, verify)
	if err != nil {
		t.Fatalf("MkGenericLog(parent): %v", err)
	}

	var usage [16]byte
	copy(usage[:], []byte("chat-session-key"))
	child, err := s.MkChildLog(parentFid, parentSign, childFid, childSign, usage, verify)
	if err != nil {
		t.Fatalf("MkChildLog: %v", err)
	}

	parent, err := s.GetLog(parentFid)
	if err != nil {
		t.Fatalf("GetLog(parent): %v", err)
	}
	mkSeq, _ := parent.Front()
	mkPkt, err := parent.Read(mkSeq)
	if err != nil {
		t.Fatalf("read mkchild entry: %v", err)
	}

	genesis, err := child.Read(1)
	if err != nil {
		t.Fatalf("read child genesis: %v", err)
	}
	wantProof := mkPkt.Signature[wire.SignatureLen-12:]
	gotProof := genesis.Payload[wire.FidLen+wire.SeqLen : wire.FidLen+wire.SeqLen+12]
	if !bytes.Equal(gotProof, wantProof) {
		t.Fatalf("child proof = %x, want last 12 sig bytes %x", gotProof, wantProof)
	}
	if !bytes.Equal(genesis.Payload[:wire.FidLen], parentFid[:]) {
		t.Fatalf("child genesis pred_fid mismatch")
	}
}

func TestMkContinuationLogSymmetricToMkChildLog(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	prevFid, prevSign, verify := testIdentity(t)
	contFid, contSign, _ := testIdentity(t)

	var payload [wire.PayloadLen]byte
	_, err = s.MkGenericLog(prevFid, wire.TypePlain48, payload, prevSign, wire.FID{}, 0, verify)
	if err != nil {
		t.Fatalf("MkGenericLog(prev): %v", err)
	}

	cont, err := s.MkContinuationLog(prevFid, prevSign, contFid, contSign, verify)
	if err != nil {
		t.Fatalf("MkContinuationLog: %v", err)
	}

	genesis, err := cont.Read(1)
	if err != nil {
		t.Fatalf("read continuation genesis: %v", err)
	}
	if genesis.Typ != wire.TypeIsContn {
		t.Fatalf("continuation genesis type = %v, want TypeIsContn", genesis.Typ)
	}
}

func TestDeleteLogRemovesFileAndClosesHandle(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fid, sign, verify := testIdentity(t)

	var payload [wire.PayloadLen]byte
	if _, err := s.MkGenericLog(fid, wire.TypePlain48, payload, sign, wire.FID{}, 0, verify); err != nil {
		t.Fatalf("MkGenericLog: %v", err)
	}
	if err := s.DeleteLog(fid); err != nil {
		t.Fatalf("DeleteLog: %v", err)
	}
	if _, err := s.GetLog(fid); err == nil {
		t.Fatalf("expected GetLog to fail after DeleteLog")
	}
}

func TestGetLogReopensFromDiskAcrossStoreInstances(t *testing.T) {
	dir := t.TempDir()
	fid, sign, verify := testIdentity(t)

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var payload [wire.PayloadLen]byte
	copy(payload[:], []byte("persisted"))
	if _, err := s1.MkGenericLog(fid, wire.TypePlain48, payload, sign, wire.FID{}, 0, verify); err != nil {
		t.Fatalf("MkGenericLog: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	lh, err := s2.GetLog(fid)
	if err != nil {
		t.Fatalf("GetLog after reopen: %v", err)
	}
	seq, _ := lh.Front()
	if seq != 1 {
		t.Fatalf("front seq after reopen = %d, want 1", seq)
	}
}
