// Package artifact stores binary outputs produced by workflow nodes: audio,
// images, documents, and anything else a node hands back as raw bytes.
// Blobs are content-addressed by BLAKE3 digest; metadata lives in an
// append-only msgpack log that is replayed on open, so the store needs no
// separate database. A store opened without a directory keeps everything in
// memory, which is what the engine tests and one-shot CLI runs use.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"

	"github.com/iosans/loom/internal/flow/fault"
)

// Metadata describes one stored artifact. Digest is the hex BLAKE3 hash of
// the blob and doubles as its filename under blobs/.
type Metadata struct {
	ID        string    `json:"id" msgpack:"id"`
	MimeType  string    `json:"mimeType" msgpack:"mimeType"`
	Category  string    `json:"category" msgpack:"category"`
	Size      int64     `json:"size" msgpack:"size"`
	Digest    string    `json:"digest" msgpack:"digest"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updatedAt"`
}

// Stats summarizes the live (non-deleted) contents of a store.
type Stats struct {
	Count      int            `json:"count"`
	TotalSize  int64          `json:"totalSize"`
	ByCategory map[string]int `json:"byCategory"`
}

const (
	opPut = "put"
	opDel = "del"
)

type logRecord struct {
	Op   string   `msgpack:"op"`
	Meta Metadata `msgpack:"meta"`
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	dir  string // empty means memory-only
	byID map[string]Metadata
	mem  map[string][]byte // digest -> blob, memory mode only
	log  *os.File
	enc  *msgpack.Encoder
	now  func() time.Time
}

// NewMemory returns a store that keeps blobs and metadata in process memory.
func NewMemory() *Store {
	return &Store{
		byID: make(map[string]Metadata),
		mem:  make(map[string][]byte),
		now:  time.Now,
	}
}

// Open returns a store rooted at dir, creating blobs/ and replaying the
// index log. Tombstoned entries are dropped during replay; their blobs stay
// on disk because other artifacts may share the same digest.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		return nil, fault.Wrap(fault.StorageFailure, err)
	}
	s := &Store{
		dir:  dir,
		byID: make(map[string]Metadata),
		now:  time.Now,
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.indexPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fault.Wrap(fault.StorageFailure, err)
	}
	s.log = f
	s.enc = msgpack.NewEncoder(f)
	return s, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.dir, "index.log") }

func (s *Store) blobPath(digest string) string {
	return filepath.Join(s.dir, "blobs", digest)
}

func (s *Store) replay() error {
	f, err := os.Open(s.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fault.Wrap(fault.StorageFailure, err)
	}
	defer f.Close()

	dec := msgpack.NewDecoder(f)
	for {
		var rec logRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// A torn tail record means the process died mid-append. Keep
			// everything decoded so far.
			return nil
		}
		switch rec.Op {
		case opPut:
			s.byID[rec.Meta.ID] = rec.Meta
		case opDel:
			delete(s.byID, rec.Meta.ID)
		}
	}
}

func (s *Store) appendLog(rec logRecord) error {
	if s.enc == nil {
		return nil
	}
	if err := s.enc.Encode(rec); err != nil {
		return fault.Wrap(fault.StorageFailure, err)
	}
	return nil
}

// Close releases the index log handle. Memory stores have nothing to close.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil {
		return nil
	}
	err := s.log.Close()
	s.log = nil
	s.enc = nil
	return err
}

// Save stores a blob under a fresh id, sniffing its MIME type from the
// content. The empty blob is rejected.
func (s *Store) Save(blob []byte, category string) (Metadata, error) {
	return s.SaveWithHint(blob, category, "")
}

// SaveWithHint is Save with a MIME or filename hint consulted when the blob
// has no recognizable magic bytes.
func (s *Store) SaveWithHint(blob []byte, category, hint string) (Metadata, error) {
	if len(blob) == 0 {
		return Metadata{}, fault.New(fault.InvalidInput, "artifact: empty blob")
	}
	sum := blake3.Sum256(blob)
	now := s.now().UTC()
	meta := Metadata{
		ID:        uuid.NewString(),
		MimeType:  DetectMIME(blob, hint),
		Category:  category,
		Size:      int64(len(blob)),
		Digest:    fmt.Sprintf("%x", sum),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		s.mem[meta.Digest] = append([]byte(nil), blob...)
	} else if err := s.writeBlob(meta.Digest, blob); err != nil {
		return Metadata{}, err
	}
	if err := s.appendLog(logRecord{Op: opPut, Meta: meta}); err != nil {
		return Metadata{}, err
	}
	s.byID[meta.ID] = meta
	return meta, nil
}

// writeBlob is idempotent: identical content maps to the same digest, so an
// existing file is left alone.
func (s *Store) writeBlob(digest string, blob []byte) error {
	path := s.blobPath(digest)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fault.Wrap(fault.StorageFailure, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fault.Wrap(fault.StorageFailure, err)
	}
	return nil
}

// Get returns the metadata and blob for id.
func (s *Store) Get(id string) (Metadata, []byte, error) {
	s.mu.RLock()
	meta, ok := s.byID[id]
	var blob []byte
	if ok && s.dir == "" {
		blob = s.mem[meta.Digest]
	}
	s.mu.RUnlock()

	if !ok {
		return Metadata{}, nil, fault.New(fault.InvalidInput, "artifact %q not found", id)
	}
	if s.dir != "" {
		b, err := os.ReadFile(s.blobPath(meta.Digest))
		if err != nil {
			return Metadata{}, nil, fault.Wrap(fault.StorageFailure, err)
		}
		blob = b
	}
	return meta, append([]byte(nil), blob...), nil
}

// Meta returns metadata only, without touching the blob.
func (s *Store) Meta(id string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.byID[id]
	if !ok {
		return Metadata{}, fault.New(fault.InvalidInput, "artifact %q not found", id)
	}
	return meta, nil
}

// Delete tombstones id. The blob file stays behind: digests are shared
// across artifacts with identical content.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.byID[id]
	if !ok {
		return fault.New(fault.InvalidInput, "artifact %q not found", id)
	}
	if err := s.appendLog(logRecord{Op: opDel, Meta: Metadata{ID: meta.ID}}); err != nil {
		return err
	}
	delete(s.byID, id)
	if s.dir == "" {
		s.dropMemBlobLocked(meta.Digest)
	}
	return nil
}

func (s *Store) dropMemBlobLocked(digest string) {
	for _, m := range s.byID {
		if m.Digest == digest {
			return
		}
	}
	delete(s.mem, digest)
}

// List returns metadata for every artifact whose category matches pattern.
// Patterns use doublestar globs ("audio/*", "runs/**"); the empty pattern
// matches everything. Results are ordered by creation time, then id.
func (s *Store) List(pattern string) []Metadata {
	s.mu.RLock()
	out := make([]Metadata, 0, len(s.byID))
	for _, m := range s.byID {
		if matchCategory(pattern, m.Category) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matchCategory(pattern, category string) bool {
	if pattern == "" {
		return true
	}
	ok, err := doublestar.Match(pattern, category)
	if err != nil {
		return pattern == category
	}
	return ok
}

// Stats reports live counts and sizes.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{ByCategory: make(map[string]int)}
	for _, m := range s.byID {
		st.Count++
		st.TotalSize += m.Size
		st.ByCategory[m.Category]++
	}
	return st
}

// ClearAll removes every artifact. In directory mode the blob files and the
// index log are deleted so the next Open starts empty.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]Metadata)
	if s.dir == "" {
		s.mem = make(map[string][]byte)
		return nil
	}
	if s.log != nil {
		if err := s.log.Truncate(0); err != nil {
			return fault.Wrap(fault.StorageFailure, err)
		}
		if _, err := s.log.Seek(0, io.SeekStart); err != nil {
			return fault.Wrap(fault.StorageFailure, err)
		}
		s.enc = msgpack.NewEncoder(s.log)
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, "blobs"))
	if err != nil {
		return fault.Wrap(fault.StorageFailure, err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.dir, "blobs", e.Name())); err != nil {
			return fault.Wrap(fault.StorageFailure, err)
		}
	}
	return nil
}
