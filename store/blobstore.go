package store

import (
	"os"
	"path/filepath"

	"tinyssb.dev/node/blob"
)

// AddBlob writes a 120-byte blob under its content hash and returns the
// hash, grounded on the teacher's CAS write (node/blockstore.go
// writeFileIfAbsent): if a file already exists at the hash, the write is a
// silent no-op and the existing file is not compared against rec.
func (s *Store) AddBlob(rec [blob.BlobLen]byte) ([20]byte, error) {
	hash := blob.HashPointer(rec[:])
	path := s.root.blobPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return hash, wrapErr(ErrIO, "mkdir blob shard", err)
	}
	if err := writeBlobIfAbsent(path, rec[:]); err != nil {
		return hash, err
	}
	return hash, nil
}

// FetchBlob returns the 120-byte blob stored under hash, if present.
func (s *Store) FetchBlob(hash [20]byte) ([blob.BlobLen]byte, bool) {
	var out [blob.BlobLen]byte
	raw, err := os.ReadFile(s.root.blobPath(hash))
	if err != nil || len(raw) != blob.BlobLen {
		return out, false
	}
	copy(out[:], raw)
	return out, true
}

func writeBlobIfAbsent(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		_, werr := f.Write(content)
		cerr := f.Close()
		if werr != nil {
			_ = os.Remove(path)
			return wrapErr(ErrIO, "write blob", werr)
		}
		if cerr != nil {
			_ = os.Remove(path)
			return wrapErr(ErrIO, "close blob", cerr)
		}
		return nil
	}
	if !os.IsExist(err) {
		return wrapErr(ErrIO, "create blob", err)
	}
	// Blob directory is content-addressed and append-only: an existing
	// file at this hash is necessarily the same 120 bytes.
	return nil
}
