package store

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"tinyssb.dev/node/wire"
)

// FeedKind classifies a feed for the purposes of transport fan-out and
// replication targeting (spec §4.D).
type FeedKind byte

const (
	Private FeedKind = iota
	PublicLocal
	PublicRemote
)

func (k FeedKind) String() string {
	switch k {
	case Private:
		return "private"
	case PublicLocal:
		return "public-local"
	case PublicRemote:
		return "public-remote"
	default:
		return "unknown"
	}
}

var bucketRegistry = []byte("feed_registry")

// Registry maintains the fid -> FeedKind mapping of spec §4.D, persisted
// in bbolt under `_backed/registry.db` alongside the raw log/blob layout
// (grounded on the teacher's node/store/db.go bucket wiring).
type Registry struct {
	db *bolt.DB

	listeners []func(fid wire.FID, kind FeedKind, activated bool)
}

func OpenRegistry(root *Root) (*Registry, error) {
	bdb, err := bolt.Open(root.registryPath(), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, wrapErr(ErrIO, "open registry.db", err)
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRegistry)
		return err
	}); err != nil {
		_ = bdb.Close()
		return nil, wrapErr(ErrIO, "create registry bucket", err)
	}
	return &Registry{db: bdb}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Subscribe registers a callback fired on Activate/Deactivate. The engine
// uses this to learn about feed lifecycle without the registry holding a
// back-pointer to it (spec §7 "Feed registry <-> engine cycles").
func (r *Registry) Subscribe(cb func(fid wire.FID, kind FeedKind, activated bool)) {
	r.listeners = append(r.listeners, cb)
}

// Activate records fid's kind and notifies subscribers.
func (r *Registry) Activate(fid wire.FID, kind FeedKind) error {
	if err := r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegistry).Put(fid[:], []byte{byte(kind)})
	}); err != nil {
		return wrapErr(ErrIO, "activate feed", err)
	}
	for _, cb := range r.listeners {
		cb(fid, kind, true)
	}
	return nil
}

// Deactivate removes fid from the registry and notifies subscribers. The
// caller is responsible for closing the corresponding LogHandle.
func (r *Registry) Deactivate(fid wire.FID) error {
	var kind FeedKind
	var found bool
	if err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRegistry).Get(fid[:])
		if v != nil {
			kind = FeedKind(v[0])
			found = true
		}
		return nil
	}); err != nil {
		return wrapErr(ErrIO, "read feed kind", err)
	}
	if !found {
		return newErr(ErrNotFound, "feed not registered")
	}
	if err := r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegistry).Delete(fid[:])
	}); err != nil {
		return wrapErr(ErrIO, "deactivate feed", err)
	}
	for _, cb := range r.listeners {
		cb(fid, kind, false)
	}
	return nil
}

// Kind returns the registered kind for fid, or ok=false if not registered.
func (r *Registry) Kind(fid wire.FID) (kind FeedKind, ok bool) {
	_ = r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRegistry).Get(fid[:])
		if v != nil {
			kind = FeedKind(v[0])
			ok = true
		}
		return nil
	})
	return kind, ok
}

// All returns every registered (fid, kind) pair. Used at startup to reseed
// GOset keys and re-arm front+1 DMX handlers (spec §7 Recovery).
func (r *Registry) All() (map[wire.FID]FeedKind, error) {
	out := make(map[wire.FID]FeedKind)
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRegistry).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var fid wire.FID
			copy(fid[:], k)
			out[fid] = FeedKind(v[0])
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr(ErrIO, "scan registry", err)
	}
	return out, nil
}
