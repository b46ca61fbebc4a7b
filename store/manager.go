package store

import (
	"encoding/binary"
	"os"
	"sync"

	"tinyssb.dev/node/wire"
)

// Store owns every open LogHandle under one data directory and implements
// the feed lifecycle operations of spec §4.C: allocate/create/continue/
// delete a log, keyed by fid.
type Store struct {
	root *Root

	mu   sync.Mutex
	logs map[wire.FID]*LogHandle
}

func Open(dataDir string) (*Store, error) {
	root, err := OpenRoot(dataDir)
	if err != nil {
		return nil, err
	}
	return &Store{root: root, logs: make(map[wire.FID]*LogHandle)}, nil
}

// GetLog returns the already-open or newly-opened handle for fid, or
// ErrNotFound if no log file exists for it.
func (s *Store) GetLog(fid wire.FID) (*LogHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLogLocked(fid)
}

func (s *Store) getLogLocked(fid wire.FID) (*LogHandle, error) {
	if lh, ok := s.logs[fid]; ok {
		return lh, nil
	}
	path := s.root.logPath(fid)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, newErr(ErrNotFound, "no log for feed")
		}
		return nil, wrapErr(ErrIO, "stat log file", err)
	}
	lh, err := openLogHandle(path, nil)
	if err != nil {
		return nil, err
	}
	s.logs[fid] = lh
	return lh, nil
}

// AllocateLog writes a header for fid and, if genesisPkt is supplied,
// validates and appends it as the seq=trustedSeq+1 entry.
func (s *Store) AllocateLog(fid wire.FID, trustedSeq uint32, trustedMid wire.MID, genesisPkt *[wire.PacketLen]byte, parentFid wire.FID, parentSeq uint32, verify wire.VerifyFunc) (*LogHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[fid]; ok {
		return nil, newErr(ErrAlreadyExists, "feed already allocated")
	}
	h := header{
		Fid:       fid,
		ParentFid: parentFid,
		ParentSeq: parentSeq,
		AnchorSeq: trustedSeq,
		AnchorMid: trustedMid,
		FrontSeq:  trustedSeq,
		FrontMid:  trustedMid,
	}
	lh, err := createLogHandle(s.root.logPath(fid), h, verify)
	if err != nil {
		return nil, err
	}
	s.logs[fid] = lh

	if genesisPkt != nil {
		if _, err := lh.Append(*genesisPkt); err != nil {
			delete(s.logs, fid)
			_ = lh.Close()
			_ = os.Remove(s.root.logPath(fid))
			return nil, err
		}
	}
	return lh, nil
}

// MkGenericLog allocates a feed whose anchor is its own genesis: anchor_seq
// = 0, anchor_mid = fid[:20], and appends a signed seq=1 entry of the given
// type inline.
func (s *Store) MkGenericLog(fid wire.FID, typ wire.PacketType, payload [wire.PayloadLen]byte, sign wire.SignFunc, parentFid wire.FID, parentSeq uint32, verify wire.VerifyFunc) (*LogHandle, error) {
	var anchorMid wire.MID
	copy(anchorMid[:], fid[:wire.MidLen])

	p, err := wire.EncodeTyped(fid, 1, anchorMid, typ, payload[:], sign)
	if err != nil {
		return nil, wrapErr(ErrBadPacket, "encode genesis entry", err)
	}
	return s.AllocateLog(fid, 0, anchorMid, &p.Wire, parentFid, parentSeq, verify)
}

// MkChildLog appends an mkchild entry to the parent feed, then allocates
// the child feed with an ischild genesis pointing back to the parent with
// proof = the last 12 bytes of the parent entry's signature (see
// SPEC_FULL.md's resolution of the proof-field open question).
func (s *Store) MkChildLog(parentFid wire.FID, parentSign wire.SignFunc, childFid wire.FID, childSign wire.SignFunc, usage16 [16]byte, verify wire.VerifyFunc) (*LogHandle, error) {
	parent, err := s.GetLog(parentFid)
	if err != nil {
		return nil, err
	}

	var mkPayload [wire.PayloadLen]byte
	copy(mkPayload[:wire.FidLen], childFid[:])
	copy(mkPayload[wire.FidLen:], usage16[:])
	mkPkt, err := parent.Append(mustEncode(parent, wire.TypeMkChild, mkPayload[:], parentSign))
	if err != nil {
		return nil, err
	}

	var proof [12]byte
	copy(proof[:], mkPkt.Signature[wire.SignatureLen-12:])

	var childPayload [wire.PayloadLen]byte
	off := 0
	off += copy(childPayload[off:], parentFid[:])
	binary.BigEndian.PutUint32(childPayload[off:], mkPkt.Seq)
	off += wire.SeqLen
	off += copy(childPayload[off:], proof[:])

	return s.MkGenericLog(childFid, wire.TypeIsChild, childPayload, childSign, parentFid, mkPkt.Seq, verify)
}

// MkContinuationLog appends a contdas entry to prevFid, then allocates
// contFid with a symmetric iscontn genesis.
func (s *Store) MkContinuationLog(prevFid wire.FID, prevSign wire.SignFunc, contFid wire.FID, contSign wire.SignFunc, verify wire.VerifyFunc) (*LogHandle, error) {
	prev, err := s.GetLog(prevFid)
	if err != nil {
		return nil, err
	}

	var opaque [16]byte
	var cdPayload [wire.PayloadLen]byte
	copy(cdPayload[:wire.FidLen], contFid[:])
	copy(cdPayload[wire.FidLen:], opaque[:])
	cdPkt, err := prev.Append(mustEncode(prev, wire.TypeContdas, cdPayload[:], prevSign))
	if err != nil {
		return nil, err
	}

	var proof [12]byte
	copy(proof[:], cdPkt.Signature[wire.SignatureLen-12:])

	var contPayload [wire.PayloadLen]byte
	off := 0
	off += copy(contPayload[off:], prevFid[:])
	binary.BigEndian.PutUint32(contPayload[off:], cdPkt.Seq)
	off += wire.SeqLen
	off += copy(contPayload[off:], proof[:])

	return s.MkGenericLog(contFid, wire.TypeIsContn, contPayload, contSign, prevFid, cdPkt.Seq, verify)
}

// mustEncode builds the next wire block for lh's feed inline, since
// LogHandle.Append expects an already-encoded buffer.
func mustEncode(lh *LogHandle, typ wire.PacketType, payload []byte, sign wire.SignFunc) [wire.PacketLen]byte {
	seq, mid := lh.Front()
	p, err := wire.EncodeTyped(lh.Fid(), seq+1, mid, typ, payload, sign)
	if err != nil {
		panic("store: local encode of well-formed payload failed: " + err.Error())
	}
	return p.Wire
}

// DeleteLog removes the log file for fid; blobs referenced from it are
// left untouched (spec §4.C).
func (s *Store) DeleteLog(fid wire.FID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lh, ok := s.logs[fid]; ok {
		_ = lh.Close()
		delete(s.logs, fid)
	}
	if err := os.Remove(s.root.logPath(fid)); err != nil && !os.IsNotExist(err) {
		return wrapErr(ErrIO, "remove log file", err)
	}
	return nil
}
