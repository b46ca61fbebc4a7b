package engine

import (
	"bytes"
	"sort"

	"tinyssb.dev/node/bipf"
	"tinyssb.dev/node/wire"
)

// wantCredit and chnkCredit bound how many packets/blobs a single incoming
// request vector may be served with (spec §4.F), so one peer's request
// cannot monopolise an arq round.
const (
	wantCredit = 3
	chnkCredit = 3
)

// activeFeeds returns every registered feed, sorted so every peer indexes
// the same (offset, feed) pairing out of a WANT vector.
func (e *Engine) activeFeeds() []wire.FID {
	all, err := e.registry.All()
	if err != nil {
		return nil
	}
	out := make([]wire.FID, 0, len(all))
	for fid := range all {
		out = append(out, fid)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// buildWantVector encodes `[offset, want_0, want_1, ...]`: offset is this
// round's starting index into the sorted feed list (round-robin, so every
// feed eventually leads a round), and want_i is the next sequence number
// this node is missing for feeds[(offset+i) % len(feeds)]. Packing stops
// before the entry that would make the encoded vector exceed 100 bytes.
func (e *Engine) buildWantVector() []byte {
	feeds := e.activeFeeds()
	if len(feeds) == 0 {
		return nil
	}

	e.mu.Lock()
	offset := e.feedOffset % len(feeds)
	e.feedOffset++
	e.mu.Unlock()

	vals := make([]uint64, 1, len(feeds)+1)
	vals[0] = uint64(offset)
	for i := 0; i < len(feeds); i++ {
		fid := feeds[(offset+i)%len(feeds)]
		front := uint32(0)
		if lh, err := e.store.GetLog(fid); err == nil {
			front, _ = lh.Front()
		}
		vals = append(vals, uint64(front+1))
		if len(bipf.EncodeUintArray(vals)) > 100 {
			vals = vals[:len(vals)-1]
			break
		}
	}
	return bipf.EncodeUintArray(vals)
}

// handleWant serves an incoming WANT vector: for each (feed, wanted seq)
// pair starting at its offset, send stored entries forward from wanted seq
// until the feed's front or the overall credit budget is exhausted.
func (e *Engine) handleWant(body []byte) {
	vals, _, err := bipf.DecodeUintArray(body)
	if err != nil || len(vals) < 1 {
		return
	}
	feeds := e.activeFeeds()
	if len(feeds) == 0 {
		return
	}
	offset := int(vals[0]) % len(feeds)
	asks := vals[1:]

	credit := wantCredit
	for i := 0; i < len(asks) && credit > 0; i++ {
		fid := feeds[(offset+i)%len(feeds)]
		lh, err := e.store.GetLog(fid)
		if err != nil {
			continue
		}
		front, _ := lh.Front()
		for seq := uint32(asks[i]); seq <= front && credit > 0; seq++ {
			p, err := lh.Read(seq)
			if err != nil {
				break
			}
			e.broadcast(p.Wire[:])
			credit--
		}
	}
}

// buildChnkVector encodes the flattened `[feed_index, seq, chunk_index]`
// triples of every chain this node is still missing blobs for.
func (e *Engine) buildChnkVector() []byte {
	feeds := e.activeFeeds()
	index := make(map[wire.FID]int, len(feeds))
	for i, fid := range feeds {
		index[fid] = i
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pendingChains) == 0 {
		return nil
	}
	vals := make([]uint64, 0, len(e.pendingChains)*3)
	for _, entry := range e.pendingChains {
		idx, ok := index[entry.Fid]
		if !ok {
			continue
		}
		vals = append(vals, uint64(idx), uint64(entry.Seq), uint64(entry.BlobIndex))
	}
	if len(vals) == 0 {
		return nil
	}
	return bipf.EncodeUintArray(vals)
}

// handleChnk serves an incoming CHNK vector: for each (feed, seq,
// chunk_index) triple, walk that chain's sidechain forward from
// chunk_index and emit up to chnkCredit blobs total across the vector.
func (e *Engine) handleChnk(body []byte) {
	vals, _, err := bipf.DecodeUintArray(body)
	if err != nil || len(vals)%3 != 0 {
		return
	}
	feeds := e.activeFeeds()
	credit := chnkCredit

	for i := 0; i+2 < len(vals) && credit > 0; i += 3 {
		feedIdx, seq, chunkIdx := int(vals[i]), uint32(vals[i+1]), int(vals[i+2])
		if feedIdx < 0 || feedIdx >= len(feeds) {
			continue
		}
		fid := feeds[feedIdx]
		lh, err := e.store.GetLog(fid)
		if err != nil {
			continue
		}
		p, err := lh.Read(seq)
		if err != nil || p.Typ != wire.TypeChain20 {
			continue
		}
		credit -= e.serveChain(p, chunkIdx, credit)
	}
}

// serveChain walks the local copy of a chain20 entry's sidechain starting
// at startIndex and broadcasts up to budget raw blobs, returning how many
// were sent. It relies on the blob store already holding every blob up to
// the point a peer could legitimately ask for.
func (e *Engine) serveChain(p *wire.Packet, startIndex, budget int) int {
	chain, err := startChainAt(p, startIndex, e.fetchBlob)
	if err != nil {
		return 0
	}
	sent := 0
	for sent < budget {
		raw, err := chain.Step(e.fetchBlob)
		if err != nil || raw == nil {
			break
		}
		e.broadcast(raw)
		sent++
	}
	return sent
}

func (e *Engine) fetchBlob(hash [20]byte) ([]byte, bool) {
	rec, ok := e.store.FetchBlob(hash)
	if !ok {
		return nil, false
	}
	return rec[:], true
}
