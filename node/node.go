// Package node wires a log store, feed registry, replication engine, and
// every configured transport link into one running instance (spec §6),
// grounded on the teacher's node/main.go + node/p2p_runtime.go composition
// root idiom.
package node

import (
	"context"
	"fmt"
	"os"
	"sync"

	"tinyssb.dev/node/blob"
	"tinyssb.dev/node/engine"
	"tinyssb.dev/node/identity"
	"tinyssb.dev/node/store"
	"tinyssb.dev/node/transport"
	"tinyssb.dev/node/wire"
)

// runner is the subset of a transport's behaviour Node needs to drive its
// receive loop; every concrete transport in package transport satisfies it
// in addition to engine.Transport's Broadcast.
type runner interface {
	Run(ctx context.Context, onRX func([]byte)) error
}

type closer interface {
	Close() error
}

// Node owns one running core instance: the log store, feed registry,
// replication engine, every transport link, and the append-callback
// registration surface spec §6 exposes to external collaborators.
type Node struct {
	cfg      Config
	identity *identity.KeyPair

	store    *store.Store
	registry *store.Registry
	engine   *engine.Engine

	runners []runner

	mu        sync.Mutex
	callbacks []store.AppendCallback
}

// New opens (or creates) the on-disk layout under cfg.DataDir, brings up
// every transport cfg names, and wires the replication engine over them.
func New(cfg Config, kp *identity.KeyPair) (*Node, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}
	root, err := store.OpenRoot(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: open root: %w", err)
	}
	reg, err := store.OpenRegistry(root)
	if err != nil {
		return nil, fmt.Errorf("node: open registry: %w", err)
	}

	links, runners, err := buildTransports(cfg)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	eng, err := engine.New(st, reg, identity.Verify(), cfg.ArqInterval, links...)
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("node: engine init: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		identity: kp,
		store:    st,
		registry: reg,
		engine:   eng,
		runners:  runners,
	}
	reg.Subscribe(n.onFeedActivated)
	return n, nil
}

// buildTransports constructs one transport per configured endpoint (spec
// §4.G): a UDP multicast link for local peer discovery, one UDP unicast
// link per explicitly configured peer, and a websocket server for remote
// links that can't join the multicast group.
func buildTransports(cfg Config) ([]engine.Transport, []runner, error) {
	var links []engine.Transport
	var runners []runner

	if cfg.MulticastAddr != "" {
		mc, err := transport.NewUDPMulticast(cfg.MulticastAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("node: multicast transport: %w", err)
		}
		links = append(links, mc)
		runners = append(runners, mc)
	}
	for _, peer := range cfg.Peers {
		uc, err := transport.NewUDPUnicast(peer)
		if err != nil {
			return nil, nil, fmt.Errorf("node: unicast transport to %s: %w", peer, err)
		}
		links = append(links, uc)
		runners = append(runners, uc)
	}
	if cfg.BindAddr != "" {
		ws := transport.NewWebSocketServer(cfg.BindAddr)
		links = append(links, ws)
		runners = append(runners, ws)
	}
	return links, runners, nil
}

// onFeedActivated is the registry subscriber that wires every activated
// feed's LogHandle to fanoutAppend, covering both feeds this node creates
// locally and feeds the engine allocates when GOset learns them from a peer
// (engine.onKeyActivated always activates a feed in the registry once its
// log exists, so GetLog here never races the allocation).
func (n *Node) onFeedActivated(fid wire.FID, kind store.FeedKind, activated bool) {
	if !activated {
		return
	}
	if lh, err := n.store.GetLog(fid); err == nil {
		lh.SetAppendCallback(n.fanoutAppend)
	}
}

func (n *Node) fanoutAppend(p *wire.Packet) {
	n.mu.Lock()
	cbs := append([]store.AppendCallback{}, n.callbacks...)
	n.mu.Unlock()
	for _, cb := range cbs {
		cb(p)
	}
}

// RegisterAppendCallback subscribes cb to every future completed append
// across every feed this node knows about (spec §6 "append callback
// registration").
func (n *Node) RegisterAppendCallback(cb store.AppendCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = append(n.callbacks, cb)
}

// ActivateFeed registers fid under kind and wires its append callback. The
// engine adds every activated feed to GOset gossip and to the feeds it
// serves on WANT requests whatever its kind; Private feeds are not excluded.
func (n *Node) ActivateFeed(fid wire.FID, kind store.FeedKind) error {
	return n.registry.Activate(fid, kind)
}

func (n *Node) DeactivateFeed(fid wire.FID) error {
	return n.registry.Deactivate(fid)
}

// CreateFeed allocates a brand-new generic log for fid (spec §4.C, anchored
// at seq 0) and activates it as a locally-owned public feed.
func (n *Node) CreateFeed(fid wire.FID, payload [wire.PayloadLen]byte, sign wire.SignFunc) (*wire.Packet, error) {
	lh, err := n.store.MkGenericLog(fid, wire.TypePlain48, payload, sign, wire.FID{}, 0, identity.Verify())
	if err != nil {
		return nil, fmt.Errorf("node: create feed: %w", err)
	}
	if err := n.registry.Activate(fid, store.PublicLocal); err != nil {
		return nil, fmt.Errorf("node: activate feed: %w", err)
	}
	seq, _ := lh.Front()
	return lh.Read(seq)
}

// WritePlain appends a plain48 entry to an already-created feed.
func (n *Node) WritePlain(fid wire.FID, payload [wire.PayloadLen]byte, sign wire.SignFunc) (*wire.Packet, error) {
	return n.writeTyped(fid, wire.TypePlain48, payload[:], sign)
}

// WriteTyped appends an entry of an arbitrary packet type (mkchild/contdas
// and friends go through store.MkChildLog/MkContinuationLog instead, since
// those mutate two logs at once).
func (n *Node) WriteTyped(fid wire.FID, typ wire.PacketType, payload []byte, sign wire.SignFunc) (*wire.Packet, error) {
	return n.writeTyped(fid, typ, payload, sign)
}

func (n *Node) writeTyped(fid wire.FID, typ wire.PacketType, payload []byte, sign wire.SignFunc) (*wire.Packet, error) {
	lh, err := n.store.GetLog(fid)
	if err != nil {
		return nil, fmt.Errorf("node: write: %w", err)
	}
	seq, mid := lh.Front()
	p, err := wire.EncodeTyped(fid, seq+1, mid, typ, payload, sign)
	if err != nil {
		return nil, fmt.Errorf("node: encode entry: %w", err)
	}
	return lh.Append(p.Wire)
}

// WriteChain splits content too large for a single 48-byte payload into a
// chain20 head entry plus its sidechain blobs (spec §4.B), stores every
// blob locally up front, and fires the completion callback immediately
// since no ARQ round trip is needed for content this node itself produced.
func (n *Node) WriteChain(fid wire.FID, content []byte, sign wire.SignFunc) (*wire.Packet, error) {
	lh, err := n.store.GetLog(fid)
	if err != nil {
		return nil, fmt.Errorf("node: write chain: %w", err)
	}
	seq, mid := lh.Front()
	head, blobs, err := blob.MkChain(fid, seq+1, mid, content, sign)
	if err != nil {
		return nil, fmt.Errorf("node: build chain: %w", err)
	}
	for _, b := range blobs {
		var rec [blob.BlobLen]byte
		copy(rec[:], b)
		if _, err := n.store.AddBlob(rec); err != nil {
			return nil, fmt.Errorf("node: store chain blob: %w", err)
		}
	}
	p, err := lh.Append(head.Wire)
	if err != nil {
		return nil, err
	}
	lh.AppendChain20Complete(p)
	return p, nil
}

func (n *Node) Store() *store.Store         { return n.store }
func (n *Node) Registry() *store.Registry   { return n.registry }
func (n *Node) Engine() *engine.Engine      { return n.engine }
func (n *Node) Identity() *identity.KeyPair { return n.identity }

// Run drives every transport's receive loop and the engine's GOset/arq
// loops until ctx is cancelled, returning the first error any of them
// reported (spec §5 "three long-lived logical tasks", generalized to one
// I/O task per transport).
func (n *Node) Run(ctx context.Context) error {
	results := make(chan error, len(n.runners)+1)
	for _, r := range n.runners {
		r := r
		go func() { results <- r.Run(ctx, n.engine.OnRX) }()
	}
	go func() { results <- n.engine.Run(ctx) }()

	var firstErr error
	for i := 0; i < len(n.runners)+1; i++ {
		if err := <-results; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases every transport and the registry's database handle. The
// log store's file handles are left open for the process lifetime (spec
// §4.C logs are append-only and cheap to keep mapped).
func (n *Node) Close() error {
	for _, r := range n.runners {
		if c, ok := r.(closer); ok {
			_ = c.Close()
		}
	}
	return n.registry.Close()
}
