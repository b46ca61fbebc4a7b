package goset

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"
)

// Config holds the round-robin and budget constants of spec §4.E.
type Config struct {
	RoundLen        time.Duration
	MaxKeys         int
	MaxPending      int
	NoveltyPerRound int
	AskPerRound     int
	HelpPerRound    int
}

func DefaultConfig() Config {
	return Config{
		RoundLen:        10 * time.Second,
		MaxKeys:         100,
		MaxPending:      20,
		NoveltyPerRound: 1,
		AskPerRound:     1,
		HelpPerRound:    2,
	}
}

// EnqueueFunc sends a goset-dmx-prefixed frame to every transport link.
type EnqueueFunc func(frame []byte)

// ActivateFunc is called when a previously-unknown key is learned, so the
// Feed Registry can activate it as PublicRemote.
type ActivateFunc func(key [KeyLen]byte)

// StateChangeFunc is called whenever the XOR state changes, so the engine
// can re-derive want_dmx/chnk_dmx.
type StateChangeFunc func(state [KeyLen]byte)

// GOset tracks the locally-known feed-ID set and runs the beacon protocol
// that converges it with peers.
type GOset struct {
	mu sync.Mutex

	cfg Config

	keys             [][KeyLen]byte // always kept sorted, unsigned lexicographic
	state            [KeyLen]byte
	pendingClaims    []Claim
	pendingNovelty   []Novelty
	noveltyCredit    int
	largestClaimSpan int
	outbox           [][]byte // frames queued under mu, sent by unlockAndFlush

	enqueue       EnqueueFunc
	activate      ActivateFunc
	onStateChange StateChangeFunc
}

func New(cfg Config, enqueue EnqueueFunc, activate ActivateFunc, onStateChange StateChangeFunc) *GOset {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultConfig().MaxKeys
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultConfig().MaxPending
	}
	if cfg.RoundLen <= 0 {
		cfg.RoundLen = DefaultConfig().RoundLen
	}
	return &GOset{
		cfg:           cfg,
		enqueue:       enqueue,
		activate:      activate,
		onStateChange: onStateChange,
		noveltyCredit: 1,
	}
}

// Keys returns a copy of the current sorted key set.
func (g *GOset) Keys() [][KeyLen]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][KeyLen]byte, len(g.keys))
	copy(out, g.keys)
	return out
}

func (g *GOset) State() [KeyLen]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func keyLess(a, b [KeyLen]byte) bool { return bytes.Compare(a[:], b[:]) < 0 }

// AddKey adds key to the local set (spec §4.E "Key addition"): rejects the
// zero key and duplicates, enforces |K| <= MaxKeys, resorts, activates the
// feed via the registry callback, and emits or queues a novelty. Returns
// whether the key was newly added.
func (g *GOset) AddKey(key [KeyLen]byte) bool {
	g.mu.Lock()
	added := g.includeKeyLocked(key)
	if !added {
		g.mu.Unlock()
		return false
	}
	g.resortLocked()
	if len(g.keys) >= g.largestClaimSpan {
		n := Novelty{Key: key}
		if g.noveltyCredit > 0 {
			g.noveltyCredit--
			g.enqueueLocked(n.Encode())
		} else if len(g.pendingNovelty) < g.cfg.MaxPending {
			g.pendingNovelty = append(g.pendingNovelty, n)
		}
	}
	g.unlockAndFlush()

	if g.activate != nil {
		g.activate(key)
	}
	return true
}

var zeroKey [KeyLen]byte

func (g *GOset) includeKeyLocked(key [KeyLen]byte) bool {
	if key == zeroKey {
		return false
	}
	for _, k := range g.keys {
		if k == key {
			return false
		}
	}
	if len(g.keys) >= g.cfg.MaxKeys {
		return false
	}
	g.keys = append(g.keys, key)
	return true
}

func (g *GOset) resortLocked() {
	sort.Slice(g.keys, func(i, j int) bool { return keyLess(g.keys[i], g.keys[j]) })
}

// enqueueLocked queues a frame while g.mu is held; unlockAndFlush hands it
// to the EnqueueFunc only after the lock is released, so an EnqueueFunc that
// delivers synchronously back into RX cannot deadlock on g.mu.
func (g *GOset) enqueueLocked(body []byte) {
	if g.enqueue == nil {
		return
	}
	frame := make([]byte, 0, DmxLen+len(body))
	frame = append(frame, Dmx[:]...)
	frame = append(frame, body...)
	g.outbox = append(g.outbox, frame)
}

func (g *GOset) unlockAndFlush() {
	out := g.outbox
	g.outbox = nil
	g.mu.Unlock()
	for _, frame := range out {
		g.enqueue(frame)
	}
}

func (g *GOset) indexOfLocked(key [KeyLen]byte) int {
	for i, k := range g.keys {
		if k == key {
			return i
		}
	}
	return -1
}

func (g *GOset) mkClaimLocked(lo, hi int) Claim {
	xor := g.keys[lo]
	for i := lo + 1; i <= hi; i++ {
		for b := range xor {
			xor[b] ^= g.keys[i][b]
		}
	}
	return Claim{Lo: g.keys[lo], Hi: g.keys[hi], Xor: xor, Sz: byte(hi - lo + 1)}
}

// RX handles an incoming goset frame (with the 7-byte dmx already
// stripped): a novelty triggers AddKey; a claim either confirms sync or
// adds its boundary keys and becomes a pending claim to answer next round.
func (g *GOset) RX(buf []byte) {
	if n, err := DecodeNovelty(buf); err == nil {
		g.AddKey(n.Key)
		return
	}
	c, err := DecodeClaim(buf)
	if err != nil {
		return
	}

	g.mu.Lock()
	inSync := int(c.Sz) == len(g.keys) && c.Xor == g.state
	g.mu.Unlock()
	if inSync {
		return
	}

	g.AddKey(c.Lo)
	g.AddKey(c.Hi)

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.pendingClaims {
		if existing.Sz == c.Sz && existing.Xor == c.Xor {
			return
		}
	}
	g.pendingClaims = append(g.pendingClaims, c)
}

// AdjustState recomputes `state` from the current key set without running
// a full beacon round — used at startup after GOset keys are reseeded
// from the Feed Registry (spec §7 Recovery).
func (g *GOset) AdjustState() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resortLocked()
	if len(g.keys) == 0 {
		g.state = [KeyLen]byte{}
	} else {
		g.state = g.mkClaimLocked(0, len(g.keys)-1).Xor
	}
	if g.onStateChange != nil {
		g.onStateChange(g.state)
	}
}

// Beacon runs one round of the protocol (spec §4.E Beacon).
func (g *GOset) Beacon() {
	g.mu.Lock()
	defer g.unlockAndFlush()

	if len(g.keys) == 0 {
		return
	}

	for g.noveltyCredit > 0 && len(g.pendingNovelty) > 0 {
		g.noveltyCredit--
		n := g.pendingNovelty[0]
		g.pendingNovelty = g.pendingNovelty[1:]
		g.enqueueLocked(n.Encode())
	}
	g.noveltyCredit = g.cfg.NoveltyPerRound

	full := g.mkClaimLocked(0, len(g.keys)-1)
	if full.Xor != g.state {
		g.state = full.Xor
		if g.onStateChange != nil {
			g.onStateChange(g.state)
		}
	}
	g.enqueueLocked(full.Encode())
	if len(g.keys) > g.largestClaimSpan {
		g.largestClaimSpan = len(g.keys)
	}

	sort.Slice(g.pendingClaims, func(i, j int) bool { return g.pendingClaims[i].Sz < g.pendingClaims[j].Sz })
	maxAsk := g.cfg.AskPerRound
	maxHelp := g.cfg.HelpPerRound

	retain := make([]Claim, 0, len(g.pendingClaims))
	for _, c := range g.pendingClaims {
		if c.Sz == 0 {
			continue
		}
		lo := g.indexOfLocked(c.Lo)
		hi := g.indexOfLocked(c.Hi)
		if lo == -1 || hi == -1 || lo > hi {
			continue
		}
		partial := g.mkClaimLocked(lo, hi)
		if partial.Xor == c.Xor {
			continue
		}
		if partial.Sz <= c.Sz {
			if maxAsk > 0 {
				g.enqueueLocked(partial.Encode())
				maxAsk--
			}
			if partial.Sz < c.Sz {
				retain = append(retain, c)
				continue
			}
		}
		if maxHelp > 0 {
			maxHelp--
			hi--
			lo++
			switch {
			case hi <= lo:
				g.enqueueLocked(Novelty{Key: g.keys[lo]}.Encode())
			case hi-lo <= 2:
				g.enqueueLocked(g.mkClaimLocked(lo, hi).Encode())
			default:
				sz := (hi + 1 - lo) / 2
				g.enqueueLocked(g.mkClaimLocked(lo, lo+sz-1).Encode())
				g.enqueueLocked(g.mkClaimLocked(lo+sz, hi).Encode())
			}
			continue
		}
		retain = append(retain, c)
	}
	for len(retain) >= g.cfg.MaxPending-5 {
		retain = retain[:len(retain)-1]
	}
	g.pendingClaims = retain
}

// Run beacons every cfg.RoundLen until ctx is cancelled.
func (g *GOset) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.RoundLen)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Beacon()
		}
	}
}
