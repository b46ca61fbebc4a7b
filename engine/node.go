// Package engine implements the replication engine of spec §4.F: dmx/blob
// dispatch, WANT/CHNK request-response, and the GOset-driven arq loop that
// ties the log store, feed registry, and anti-entropy protocol together.
package engine

import (
	"context"
	"sync"
	"time"

	"tinyssb.dev/node/blob"
	"tinyssb.dev/node/goset"
	"tinyssb.dev/node/store"
	"tinyssb.dev/node/wire"
)

// Transport is the minimal capability the engine needs from a link (spec
// §4.G): broadcast a frame to every connected neighbour. Concrete
// transports (UDP multicast, unicast, websocket) are defined outside this
// package to avoid a cyclic import; this interface is satisfied implicitly.
type Transport interface {
	Broadcast(frame []byte) error
}

// Engine owns the dmx/blob dispatch tables, the GOset instance, and the
// request-response bookkeeping (pending_chains, want/chnk dmx) that keep a
// node's logs converging with its peers.
type Engine struct {
	mu sync.Mutex

	store      *store.Store
	registry   *store.Registry
	gs         *goset.GOset
	verify     wire.VerifyFunc
	transports []Transport

	dmxTable   map[wire.DMX]packetHandler
	blobTable  map[[20]byte]packetHandler
	frameTable map[wire.DMX]frameHandler

	pendingChains map[[20]byte]store.PendingEntry
	dirtyPending  bool

	wantDmx wire.DMX
	chnkDmx wire.DMX

	feedOffset int

	arqInterval time.Duration
}

// New wires a fresh Engine over an opened Store and Registry, reseeds its
// GOset from every already-registered feed, and re-arms blob handlers for
// every chain left incomplete by a prior run (spec §7 Recovery).
func New(st *store.Store, reg *store.Registry, verify wire.VerifyFunc, arqInterval time.Duration, transports ...Transport) (*Engine, error) {
	if arqInterval <= 0 {
		arqInterval = 5 * time.Second
	}
	e := &Engine{
		store:       st,
		registry:    reg,
		verify:      verify,
		transports:  append([]Transport{}, transports...),
		dmxTable:    make(map[wire.DMX]packetHandler),
		blobTable:   make(map[[20]byte]packetHandler),
		frameTable:  make(map[wire.DMX]frameHandler),
		arqInterval: arqInterval,
	}

	e.gs = goset.New(goset.DefaultConfig(), e.broadcast, e.onKeyActivated, e.onGOsetStateChange)
	e.armFrame(goset.Dmx, e.gs.RX)
	reg.Subscribe(e.onRegistryChange)

	pc, err := st.LoadPendingChains()
	if err != nil {
		return nil, err
	}
	e.pendingChains = pc

	all, err := reg.All()
	if err != nil {
		return nil, err
	}
	for fid := range all {
		e.gs.AddKey(fid)
	}
	e.gs.AdjustState()
	e.reseedPendingChains()

	return e, nil
}

func (e *Engine) broadcast(frame []byte) {
	e.mu.Lock()
	transports := append([]Transport{}, e.transports...)
	e.mu.Unlock()
	for _, t := range transports {
		_ = t.Broadcast(frame)
	}
}

// onKeyActivated is GOset's ActivateFunc: a newly-learned feed id gets a
// generic log allocated (anchor_seq=0, anchor_mid=fid[:20] — the same
// derivation spec §4.C uses for every feed, child or not), is registered as
// PublicRemote unless already known under some other kind, and has its
// genesis dmx armed.
func (e *Engine) onKeyActivated(key [32]byte) {
	var fid wire.FID
	copy(fid[:], key[:])

	var anchorMid wire.MID
	copy(anchorMid[:], fid[:wire.MidLen])

	if _, err := e.store.AllocateLog(fid, 0, anchorMid, nil, wire.FID{}, 0, e.verify); err != nil {
		if serr, ok := err.(*store.Error); !ok || serr.Code != store.ErrAlreadyExists {
			return
		}
	}
	if _, ok := e.registry.Kind(fid); !ok {
		_ = e.registry.Activate(fid, store.PublicRemote)
	}
	e.armNextFor(fid)
}

// onRegistryChange is fired on every registry activation or deactivation,
// including the one onKeyActivated makes for a key GOset just learned (for
// which AddKey is then a no-op). It feeds the fid into GOset so peers learn
// about it too.
func (e *Engine) onRegistryChange(fid wire.FID, kind store.FeedKind, activated bool) {
	if !activated {
		return
	}
	e.gs.AddKey(fid)
	e.armNextFor(fid)
}

// onGOsetStateChange re-derives want_dmx/chnk_dmx whenever the XOR state
// changes and re-arms the request frame table under the new values.
func (e *Engine) onGOsetStateChange(state [32]byte) {
	newWant := wantDmxFor(state)
	newChnk := chnkDmxFor(state)

	e.mu.Lock()
	oldWant, oldChnk := e.wantDmx, e.chnkDmx
	e.wantDmx, e.chnkDmx = newWant, newChnk
	e.mu.Unlock()

	if oldWant != newWant {
		e.disarmFrame(oldWant)
		e.armFrame(newWant, e.handleWant)
	}
	if oldChnk != newChnk {
		e.disarmFrame(oldChnk)
		e.armFrame(newChnk, e.handleChnk)
	}
}

// armNextFor arms the dmx of the next sequence number fid's log expects.
func (e *Engine) armNextFor(fid wire.FID) {
	lh, err := e.store.GetLog(fid)
	if err != nil {
		return
	}
	seq, mid := lh.Front()
	dmx := wire.ComputeDmx(fid, seq+1, mid)
	e.ArmDmx(dmx, func(raw []byte) { e.handleLogEntry(fid, raw) })
}

// handleLogEntry implements incoming_logentry (spec §4.F): append the
// entry, disarm its own dmx, start tracking a chain20's sidechain or learn
// about a referenced child/continuation feed, then arm the next one.
func (e *Engine) handleLogEntry(fid wire.FID, raw []byte) {
	lh, err := e.store.GetLog(fid)
	if err != nil {
		return
	}
	var buf [wire.PacketLen]byte
	copy(buf[:], raw)
	p, err := lh.Append(buf)
	if err != nil {
		return
	}
	e.DisarmDmx(p.Dmx)

	switch p.Typ {
	case wire.TypeChain20:
		e.startChainTracking(fid, p)
	case wire.TypeMkChild:
		e.learnReferencedFeed(p.Payload[:wire.FidLen])
	case wire.TypeContdas:
		e.learnReferencedFeed(p.Payload[:wire.FidLen])
	}

	e.armNextFor(fid)
}

func (e *Engine) learnReferencedFeed(fidBytes []byte) {
	var fid wire.FID
	copy(fid[:], fidBytes)
	e.gs.AddKey(fid)
}

// startChainTracking begins (or short-circuits) sidechain reassembly for a
// freshly appended chain20 entry.
func (e *Engine) startChainTracking(fid wire.FID, p *wire.Packet) {
	chain, err := blob.StartChain(p.Payload)
	if err != nil {
		return
	}
	if chain.Complete() {
		if lh, err := e.store.GetLog(fid); err == nil {
			lh.AppendChain20Complete(p)
		}
		return
	}
	e.armBlobHandler(fid, p.Seq, chain)
}

// armBlobHandler records chain's next needed blob in pending_chains and
// arms a handler to consume it once it arrives.
func (e *Engine) armBlobHandler(fid wire.FID, seq uint32, chain *blob.Chain) {
	hash := *chain.NextPtr
	e.mu.Lock()
	e.pendingChains[hash] = store.PendingEntry{Fid: fid, Seq: seq, BlobIndex: chain.NextIndex}
	e.dirtyPending = true
	e.mu.Unlock()
	e.ArmBlob(hash, func(raw []byte) { e.handleChainedBlob(fid, seq, chain, raw) })
}

// handleChainedBlob implements incoming_chainedblob (spec §4.F): store the
// blob, step the chain forward, and either fire the completion callback or
// arm the next blob in the sidechain.
func (e *Engine) handleChainedBlob(fid wire.FID, seq uint32, chain *blob.Chain, raw []byte) {
	hash := blob.HashPointer(raw)
	var rec [blob.BlobLen]byte
	copy(rec[:], raw)
	if _, err := e.store.AddBlob(rec); err != nil {
		return
	}
	if _, err := chain.Step(func(h [20]byte) ([]byte, bool) {
		if h == hash {
			return raw, true
		}
		return nil, false
	}); err != nil {
		return
	}

	e.mu.Lock()
	delete(e.pendingChains, hash)
	e.dirtyPending = true
	e.mu.Unlock()
	e.DisarmBlob(hash)

	if chain.Complete() {
		if lh, err := e.store.GetLog(fid); err == nil {
			if p, rerr := lh.Read(seq); rerr == nil {
				lh.AppendChain20Complete(p)
			}
		}
		return
	}
	e.armBlobHandler(fid, seq, chain)
}

// reloadChain reconstructs a Chain's in-memory state from its head packet
// and already-stored blobs, fast-forwarded to startIndex — used to re-arm
// handlers for chains left incomplete by a prior run.
func (e *Engine) reloadChain(fid wire.FID, seq uint32, startIndex int) (*blob.Chain, error) {
	lh, err := e.store.GetLog(fid)
	if err != nil {
		return nil, err
	}
	p, err := lh.Read(seq)
	if err != nil {
		return nil, err
	}
	return startChainAt(p, startIndex, e.fetchBlob)
}

func (e *Engine) reseedPendingChains() {
	e.mu.Lock()
	pc := make(map[[20]byte]store.PendingEntry, len(e.pendingChains))
	for h, v := range e.pendingChains {
		pc[h] = v
	}
	e.mu.Unlock()

	for hash, entry := range pc {
		chain, err := e.reloadChain(entry.Fid, entry.Seq, entry.BlobIndex)
		if err != nil {
			continue
		}
		fid, seq := entry.Fid, entry.Seq
		e.ArmBlob(hash, func(raw []byte) { e.handleChainedBlob(fid, seq, chain, raw) })
	}
}

func (e *Engine) currentWantDmx() wire.DMX {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wantDmx
}

func (e *Engine) currentChnkDmx() wire.DMX {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chnkDmx
}

// arqTick builds and broadcasts one round's WANT and CHNK vectors, then
// flushes pending_chains.json if it changed since the last tick (spec §4.F
// arq_loop / §6 "batched, not fsynced per blob").
func (e *Engine) arqTick() {
	if v := e.buildWantVector(); v != nil {
		frame := append(append([]byte{}, e.currentWantDmx()[:]...), v...)
		e.broadcast(frame)
	}
	if v := e.buildChnkVector(); v != nil {
		frame := append(append([]byte{}, e.currentChnkDmx()[:]...), v...)
		e.broadcast(frame)
	}

	e.mu.Lock()
	dirty := e.dirtyPending
	snapshot := make(map[[20]byte]store.PendingEntry, len(e.pendingChains))
	for h, v := range e.pendingChains {
		snapshot[h] = v
	}
	e.dirtyPending = false
	e.mu.Unlock()

	if dirty {
		_ = e.store.SavePendingChains(snapshot)
	}
}

func (e *Engine) arqLoop(ctx context.Context) {
	ticker := time.NewTicker(e.arqInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.arqTick()
		}
	}
}

// Run drives the GOset beacon and the arq loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- e.gs.Run(ctx) }()
	e.arqLoop(ctx)
	return <-done
}
