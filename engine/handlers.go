package engine

import (
	"tinyssb.dev/node/blob"
	"tinyssb.dev/node/wire"
)

// packetHandler receives one raw 120-byte wire block once it matches an
// armed dmx or blob hash.
type packetHandler func(raw []byte)

// frameHandler receives a variable-length request/gossip frame with its
// leading 7-byte dmx already stripped.
type frameHandler func(body []byte)

// ArmDmx registers h to fire the next time a 120-byte packet arrives whose
// dmx equals dmx. Used to await a specific (fid, seq, prev_mid) log entry.
func (e *Engine) ArmDmx(dmx wire.DMX, h packetHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dmxTable[dmx] = h
}

func (e *Engine) DisarmDmx(dmx wire.DMX) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.dmxTable, dmx)
}

// ArmBlob registers h to fire the next time a 120-byte record arrives whose
// content hash equals hash. Used to await a specific sidechain blob.
func (e *Engine) ArmBlob(hash [20]byte, h packetHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blobTable[hash] = h
}

func (e *Engine) DisarmBlob(hash [20]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.blobTable, hash)
}

// armFrame registers h to fire for variable-length frames arriving under
// dmx (GOset gossip, WANT/CHNK requests).
func (e *Engine) armFrame(dmx wire.DMX, h frameHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frameTable[dmx] = h
}

func (e *Engine) disarmFrame(dmx wire.DMX) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.frameTable, dmx)
}

// OnRX is the single entry point every transport feeds inbound bytes into
// (spec §4.G). It classifies the frame by length, then dispatches: fixed
// 120-byte blocks are log entries or sidechain blobs (arm table first, then
// content hash); anything else is a dmx-prefixed request/gossip frame.
func (e *Engine) OnRX(buf []byte) {
	if len(buf) == wire.PacketLen {
		e.onPacket(buf)
		return
	}
	if len(buf) < wire.DmxLen {
		return
	}
	var dmx wire.DMX
	copy(dmx[:], buf[:wire.DmxLen])
	e.mu.Lock()
	h, ok := e.frameTable[dmx]
	e.mu.Unlock()
	if ok {
		h(buf[wire.DmxLen:])
	}
}

func (e *Engine) onPacket(buf []byte) {
	var dmx wire.DMX
	copy(dmx[:], buf[:wire.DmxLen])

	e.mu.Lock()
	h, ok := e.dmxTable[dmx]
	e.mu.Unlock()
	if ok {
		h(buf)
		return
	}

	hash := blob.HashPointer(buf)
	e.mu.Lock()
	bh, ok := e.blobTable[hash]
	e.mu.Unlock()
	if ok {
		bh(buf)
	}
}
