// Package cache implements the marker-file cache store of spec.md §4.5: a
// task with cache=true is skipped if a marker for its (cmd, env) key already
// exists. It is grounded on the teacher's internal/core/cache.go FileCache,
// simplified to a single zero-byte marker file per key, created atomically
// with O_CREATE|O_EXCL (no rename step is needed for an empty file), rather
// than the teacher's stdout/stderr/
// artifact-bearing CacheEntry, since spec.md's cache only records
// "this exact (cmd, env) has already succeeded", not the task's output.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/scriptweaver/zr/internal/task"
)

// keyHexLen is the number of hex characters kept from the SHA-256 digest,
// i.e. 64 bits of the 256-bit hash (spec.md §4.5: "16-hex-char 64-bit
// marker-file store keyed by cmd+env").
const keyHexLen = 16

// Store is a marker-file cache keyed by task command and environment
// overrides. All operations are safe for concurrent use by multiple worker
// goroutines, since each key maps to its own file and writes are
// create-exclusive.
type Store struct {
	dir string
	log zerolog.Logger
}

// New returns a Store rooted at dir, creating it if necessary, logging
// through log (spec.md §0: "the scheduler, process supervisor, and cache log
// at debug/info/warn around state transitions"). dir is typically
// ~/.zr/cache (spec.md §6).
func New(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("cache init failed, treating as always-miss")
		return nil, &task.CacheError{Op: "init", Cause: err}
	}
	log.Debug().Str("dir", dir).Msg("cache store ready")
	return &Store{dir: dir, log: log}, nil
}

// Key derives the 16-hex cache key for a task's cmd and environment
// overrides. Per spec.md §4.3, env overrides are hashed in their declared
// (stored) order, not a sorted order: two task definitions differing only in
// env-entry order are distinct cache keys, matching the teacher's own
// TaskHash treating declaration order as part of task identity.
//
// Each field is length-prefixed with a fixed 8-byte big-endian count before
// being written into the hash, so "cmd=ab,env=c" and "cmd=a,env=bc" (which
// would otherwise concatenate to the same byte stream) hash differently.
func Key(cmd string, env []task.EnvVar) string {
	h := sha256.New()
	writeField(h, []byte(cmd))
	for _, e := range env {
		writeField(h, []byte(e.Key))
		writeField(h, []byte(e.Value))
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:keyHexLen]
}

func writeField(h interface{ Write([]byte) (int, error) }, b []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(b)))
	_, _ = h.Write(length[:])
	_, _ = h.Write(b)
}

// Hit reports whether a marker already exists for key. A stat error other
// than "not exist" is treated as a cache miss (spec.md §7 CacheError:
// "always a warning... treated as a cache miss, never fatal"), since an
// inaccessible cache directory must never block execution.
func (s *Store) Hit(key string) bool {
	_, err := os.Stat(s.markerPath(key))
	hit := err == nil
	s.log.Debug().Str("key", key).Bool("hit", hit).Msg("cache lookup")
	return hit
}

// Mark records key as satisfied. Marking is idempotent: a marker that
// already exists (os.IsExist) is treated as success, since two goroutines
// racing to mark the same key both want the same outcome.
func (s *Store) Mark(key string) error {
	f, err := os.OpenFile(s.markerPath(key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		s.log.Warn().Err(err).Str("key", key).Msg("cache mark failed")
		return &task.CacheError{Op: "mark", Cause: err}
	}
	s.log.Debug().Str("key", key).Msg("cache marked")
	return f.Close()
}

// ClearAll removes every marker, forcing the next run to treat all
// cacheable tasks as misses.
func (s *Store) ClearAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		s.log.Warn().Err(err).Msg("cache clear_all failed to list entries")
		return &task.CacheError{Op: "clear_all", Cause: err}
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.log.Warn().Err(err).Str("entry", e.Name()).Msg("cache clear_all failed to remove entry")
			return &task.CacheError{Op: "clear_all", Cause: err}
		}
	}
	s.log.Info().Int("count", len(entries)).Msg("cache cleared")
	return nil
}

func (s *Store) markerPath(key string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.ok", key))
}
