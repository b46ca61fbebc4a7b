package store

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"tinyssb.dev/node/wire"
)

// blockLen is the fixed size of every record in a log file and every blob.
const blockLen = 120

// Root is the on-disk layout under a configured data directory (spec §6):
//
//	<root>/_logs/<hex(fid)>.log
//	<root>/_blob/<XX>/<REST-of-hex-hash>
//	<root>/_backed/pending_chains.json
//	<root>/_backed/registry.db
type Root struct {
	base string
}

func OpenRoot(base string) (*Root, error) {
	if base == "" {
		return nil, fmt.Errorf("store: data directory required")
	}
	r := &Root{base: base}
	for _, dir := range []string{r.logsDir(), r.blobDir(), r.backedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	return r, nil
}

func (r *Root) logsDir() string   { return filepath.Join(r.base, "_logs") }
func (r *Root) blobDir() string   { return filepath.Join(r.base, "_blob") }
func (r *Root) backedDir() string { return filepath.Join(r.base, "_backed") }

func (r *Root) logPath(fid wire.FID) string {
	return filepath.Join(r.logsDir(), hex.EncodeToString(fid[:])+".log")
}

func (r *Root) blobPath(hash [20]byte) string {
	h := hex.EncodeToString(hash[:])
	return filepath.Join(r.blobDir(), h[:2], h[2:])
}

func (r *Root) pendingChainsPath() string {
	return filepath.Join(r.backedDir(), "pending_chains.json")
}

func (r *Root) registryPath() string {
	return filepath.Join(r.backedDir(), "registry.db")
}
