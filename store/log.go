package store

import (
	"os"
	"sync"

	"tinyssb.dev/node/wire"
)

// AppendCallback is invoked once an appended entry's content is complete
// (plain48 immediately, chain20 once its sidechain is fully resolved).
// Spec §6: at most one per feed, invoked on the thread that observed
// completion, and must not re-enter the engine synchronously.
type AppendCallback func(*wire.Packet)

// LogHandle is a single per-feed append-only log file: a 120-byte header
// block (block 0) followed by one 120-byte wire packet per sequence number,
// grounded on the teacher's BlockStore file-per-resource idiom
// (node/blockstore.go) adapted to tinySSB's single growing file per feed.
type LogHandle struct {
	mu sync.Mutex

	path string
	f    *os.File
	h    header

	verify   wire.VerifyFunc
	appendCb AppendCallback
	pending  int // spec-supplemented subscription/credit counter, diagnostics only
}

func blockOffset(h header, seq uint32) int64 {
	return int64(seq-h.AnchorSeq) * int64(blockLen)
}

func createLogHandle(path string, h header, verify wire.VerifyFunc) (*LogHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, newErr(ErrAlreadyExists, path)
		}
		return nil, wrapErr(ErrIO, "create log file", err)
	}
	lh := &LogHandle{path: path, f: f, h: h, verify: verify}
	if err := lh.writeHeaderLocked(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return lh, nil
}

func openLogHandle(path string, verify wire.VerifyFunc) (*LogHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newErr(ErrNotFound, path)
		}
		return nil, wrapErr(ErrIO, "open log file", err)
	}
	buf := make([]byte, headerLen)
	if _, err := f.ReadAt(buf, 0); err != nil {
		_ = f.Close()
		return nil, wrapErr(ErrCorruptHeader, "read header block", err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		_ = f.Close()
		return nil, wrapErr(ErrCorruptHeader, "decode header block", err)
	}
	return &LogHandle{path: path, f: f, h: h, verify: verify}, nil
}

func (lh *LogHandle) writeHeaderLocked() error {
	if _, err := lh.f.WriteAt(encodeHeader(lh.h), 0); err != nil {
		return wrapErr(ErrIO, "write header block", err)
	}
	if err := lh.f.Sync(); err != nil {
		return wrapErr(ErrIO, "fsync header block", err)
	}
	return nil
}

func (lh *LogHandle) Close() error {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	return lh.f.Close()
}

func (lh *LogHandle) Fid() wire.FID { return lh.h.Fid }

// Front returns the sequence number and mid of the last appended entry.
// Before any entry is appended, front_seq == anchor_seq and front_mid ==
// anchor_mid.
func (lh *LogHandle) Front() (uint32, wire.MID) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	return lh.h.FrontSeq, lh.h.FrontMid
}

func (lh *LogHandle) SetAppendCallback(cb AppendCallback) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	lh.appendCb = cb
}

// IncPending bumps the diagnostic subscription counter (spec-supplemented,
// see SPEC_FULL.md) and returns its new value.
func (lh *LogHandle) IncPending() int {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	lh.pending++
	return lh.pending
}

func (lh *LogHandle) ResetPending() {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	lh.pending = 0
}

// Append decodes buf against the expected next (fid, seq, prev_mid),
// validates chain linkage and signature, writes it at its block offset,
// advances front, and fsyncs. RejectBadPacket surfaces as ErrBadPacket; a
// wrong sequence number or prev_mid shows up there as a dmx mismatch.
func (lh *LogHandle) Append(buf [wire.PacketLen]byte) (*wire.Packet, error) {
	lh.mu.Lock()
	defer lh.mu.Unlock()

	nextSeq := lh.h.FrontSeq + 1
	prevMid := lh.h.FrontMid
	if lh.h.FrontSeq == lh.h.AnchorSeq {
		prevMid = lh.h.AnchorMid
	}

	p, err := wire.Decode(buf[:], lh.h.Fid, nextSeq, prevMid, lh.verify)
	if err != nil {
		return nil, wrapErr(ErrBadPacket, "append rejected", err)
	}

	off := blockOffset(lh.h, nextSeq)
	if _, err := lh.f.WriteAt(buf[:], off); err != nil {
		return nil, wrapErr(ErrIO, "write entry block", err)
	}

	lh.h.FrontSeq = nextSeq
	lh.h.FrontMid = p.Mid
	if err := lh.writeHeaderLocked(); err != nil {
		return nil, err
	}

	if p.ContentComplete() && lh.appendCb != nil {
		lh.appendCb(p)
	}
	return p, nil
}

// AppendChain20Complete notifies the append callback for a chain20 entry
// once its sidechain has finished reassembling out-of-band (the entry
// itself was already written to the log by Append when the head packet
// arrived; this only fires the completion notification).
func (lh *LogHandle) AppendChain20Complete(p *wire.Packet) {
	lh.mu.Lock()
	cb := lh.appendCb
	lh.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

// Read returns the packet stored at seq, or ErrNotFound if seq is beyond
// the front. Per spec §4.C, prev_mid is not persisted per entry: only the
// genesis entry's prev_mid (anchor_mid) is known at read time, so interior
// entries are parsed without re-deriving and checking their dmx/signature
// against a prev_mid this call cannot reconstruct — that verification
// happens once, at Append time.
func (lh *LogHandle) Read(seq uint32) (*wire.Packet, error) {
	lh.mu.Lock()
	defer lh.mu.Unlock()

	if seq <= lh.h.AnchorSeq || seq > lh.h.FrontSeq {
		return nil, newErr(ErrNotFound, "seq out of range")
	}
	buf := make([]byte, blockLen)
	if _, err := lh.f.ReadAt(buf, blockOffset(lh.h, seq)); err != nil {
		return nil, wrapErr(ErrIO, "read entry block", err)
	}

	prevMid := lh.h.AnchorMid
	var verify wire.VerifyFunc
	if seq == lh.h.AnchorSeq+1 {
		verify = lh.verify
	} else {
		prevMid = wire.MID{}
	}
	p, err := wire.Decode(buf, lh.h.Fid, seq, prevMid, verify)
	if err != nil {
		if verify == nil {
			// Interior entry: DMX/signature won't line up against the
			// placeholder prev_mid above. Fall back to a field-only parse.
			return decodeRawFields(lh.h.Fid, seq, buf), nil
		}
		return nil, wrapErr(ErrBadPacket, "decode entry block", err)
	}
	return p, nil
}

// decodeRawFields extracts a packet's fields from its wire bytes without
// attempting dmx/signature verification, for interior reads where the
// true prev_mid is not reconstructable from the file alone.
func decodeRawFields(fid wire.FID, seq uint32, buf []byte) *wire.Packet {
	p := &wire.Packet{Fid: fid, Seq: seq}
	copy(p.Dmx[:], buf[:wire.DmxLen])
	p.Typ = wire.PacketType(buf[wire.DmxLen])
	copy(p.Payload[:], buf[wire.DmxLen+1:wire.DmxLen+1+wire.PayloadLen])
	copy(p.Signature[:], buf[wire.DmxLen+1+wire.PayloadLen:])
	copy(p.Wire[:], buf)
	return p
}
