package store

import (
	"encoding/hex"
	"encoding/json"
	"os"

	"tinyssb.dev/node/wire"
)

// PendingEntry records where a yet-to-arrive blob slots into its owning
// chain, per spec §4.F: `pending_chains: map<hash20, (fid, seq, blob_index)>`.
type PendingEntry struct {
	Fid       wire.FID
	Seq       uint32
	BlobIndex int
}

type pendingEntryDisk struct {
	Fid       string `json:"fid"`
	Seq       uint32 `json:"seq"`
	BlobIndex int    `json:"blob_index"`
}

// LoadPendingChains reads `_backed/pending_chains.json`, or returns an
// empty map if it does not yet exist (spec §6).
func (s *Store) LoadPendingChains() (map[[20]byte]PendingEntry, error) {
	raw, err := os.ReadFile(s.root.pendingChainsPath())
	if os.IsNotExist(err) {
		return map[[20]byte]PendingEntry{}, nil
	}
	if err != nil {
		return nil, wrapErr(ErrIO, "read pending_chains.json", err)
	}

	var disk map[string]pendingEntryDisk
	if err := json.Unmarshal(raw, &disk); err != nil {
		return nil, wrapErr(ErrCorruptHeader, "decode pending_chains.json", err)
	}

	out := make(map[[20]byte]PendingEntry, len(disk))
	for hashHex, e := range disk {
		hashBytes, err := hex.DecodeString(hashHex)
		if err != nil || len(hashBytes) != 20 {
			return nil, wrapErr(ErrCorruptHeader, "pending_chains.json bad hash key: "+hashHex, err)
		}
		var hash [20]byte
		copy(hash[:], hashBytes)

		fidBytes, err := hex.DecodeString(e.Fid)
		if err != nil || len(fidBytes) != wire.FidLen {
			return nil, wrapErr(ErrCorruptHeader, "pending_chains.json bad fid: "+e.Fid, err)
		}
		var fid wire.FID
		copy(fid[:], fidBytes)

		out[hash] = PendingEntry{Fid: fid, Seq: e.Seq, BlobIndex: e.BlobIndex}
	}
	return out, nil
}

// SavePendingChains writes the map atomically: write a .part file, fsync,
// rename. It is not called on every blob receipt: the engine batches one
// save per ARQ round.
func (s *Store) SavePendingChains(m map[[20]byte]PendingEntry) error {
	disk := make(map[string]pendingEntryDisk, len(m))
	for hash, e := range m {
		disk[hex.EncodeToString(hash[:])] = pendingEntryDisk{
			Fid:       hex.EncodeToString(e.Fid[:]),
			Seq:       e.Seq,
			BlobIndex: e.BlobIndex,
		}
	}
	raw, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return wrapErr(ErrIO, "encode pending_chains.json", err)
	}
	raw = append(raw, '\n')

	final := s.root.pendingChainsPath()
	tmp := final + ".part"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapErr(ErrIO, "open pending_chains.part", err)
	}
	_, werr := f.Write(raw)
	serr := f.Sync()
	cerr := f.Close()
	if werr != nil {
		return wrapErr(ErrIO, "write pending_chains.part", werr)
	}
	if serr != nil {
		return wrapErr(ErrIO, "fsync pending_chains.part", serr)
	}
	if cerr != nil {
		return wrapErr(ErrIO, "close pending_chains.part", cerr)
	}
	if err := os.Rename(tmp, final); err != nil {
		return wrapErr(ErrIO, "rename pending_chains.part", err)
	}
	return nil
}
