package engine

import (
	"fmt"

	"tinyssb.dev/node/blob"
	"tinyssb.dev/node/wire"
)

// startChainAt parses p's chain20 payload and fast-forwards the resulting
// Chain to startIndex using fetch without re-sending any of the skipped
// blobs — a CHNK request names the chunk_index of the next blob the peer is
// missing, so serving resumes at that blob instead of replaying the chain
// from the head every time.
func startChainAt(p *wire.Packet, startIndex int, fetch blob.FetchFunc) (*blob.Chain, error) {
	chain, err := blob.StartChain(p.Payload)
	if err != nil {
		return nil, err
	}
	for chain.NextIndex < startIndex {
		if _, err := chain.Step(fetch); err != nil {
			return nil, fmt.Errorf("engine: fast-forward chain to index %d: %w", startIndex, err)
		}
	}
	return chain, nil
}
