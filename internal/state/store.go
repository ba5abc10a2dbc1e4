// Package state persists per-key scheduling state and the suppression set
// as a single JSON document.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/nhle/mail-followup/internal/logging"
	"github.com/nhle/mail-followup/internal/model"
	"github.com/rs/zerolog"
)

// SuppressedKey is the reserved document key holding the suppression set.
const SuppressedKey = "__suppressed__"

// ErrCorrupt marks a state document that could not be decoded.
var ErrCorrupt = errors.New("state document corrupt")

// Snapshot is the loaded state document.
type Snapshot struct {
	States     map[string]model.ScheduleState
	Suppressed map[string]bool
}

func emptySnapshot() Snapshot {
	return Snapshot{
		States:     make(map[string]model.ScheduleState),
		Suppressed: make(map[string]bool),
	}
}

// Store is the file-backed state store. Every mutation is flushed to disk
// before it returns. Other processes may write the same file; Load picks
// up their changes and the last writer wins.
type Store struct {
	path     string
	lockPath string

	mu   sync.Mutex
	snap Snapshot
	log  zerolog.Logger
}

// New returns a store for the file at path. Nothing is read until Load.
func New(path string) *Store {
	path = strings.TrimSpace(path)
	return &Store{
		path:     path,
		lockPath: path + ".lock",
		snap:     emptySnapshot(),
		log:      logging.Component("state"),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load replaces the in-memory snapshot with the file contents. A missing
// file yields an empty snapshot. An unreadable or invalid file also yields
// an empty snapshot and is logged; its contents are lost on the next save.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload []byte
	err := withFileLock(s.lockPath, func() error {
		var err error
		payload, err = os.ReadFile(s.path)
		return err
	})

	switch {
	case errors.Is(err, os.ErrNotExist):
		s.snap = emptySnapshot()
		return nil
	case err != nil:
		s.log.Warn().Err(err).Str("path", s.path).
			Msg("state unreadable, starting empty")
		s.snap = emptySnapshot()
		return nil
	}

	snap, err := decode(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).
			Msg("state corrupt, starting empty")
		s.snap = emptySnapshot()
		return nil
	}
	s.snap = snap
	return nil
}

// saveLocked writes the snapshot atomically. Callers hold s.mu.
func (s *Store) saveLocked() error {
	payload, err := encode(s.snap)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	err = withFileLock(s.lockPath, func() error {
		return writeAtomic(s.path, payload)
	})
	if err != nil {
		return fmt.Errorf("saving state %s: %w", s.path, err)
	}
	return nil
}

// Get returns the state stored under key.
func (s *Store) Get(key string) (model.ScheduleState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.snap.States[key]
	return st, ok
}

// Put merges st into the state under key and flushes. The merge keeps a
// received reply sticky and the last reminder time monotonic.
func (s *Store) Put(key string, st model.ScheduleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snap.States[key]
	s.snap.States[key] = prev.Merge(st)
	return s.saveLocked()
}

// IsSuppressed reports whether key is in the suppression set.
func (s *Store) IsSuppressed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Suppressed[key]
}

// Suppress adds key to the suppression set and flushes.
func (s *Store) Suppress(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Suppressed[key] = true
	return s.saveLocked()
}

// Unsuppress removes key from the suppression set and flushes.
func (s *Store) Unsuppress(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snap.Suppressed, key)
	return s.saveLocked()
}

// Cancel drops the state under key and suppresses it, so the key is never
// acted on again until unsuppressed.
func (s *Store) Cancel(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snap.States, key)
	s.snap.Suppressed[key] = true
	return s.saveLocked()
}

// Keys returns the keys with stored state, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.snap.States)
}

// Suppressed returns the suppression set, sorted.
func (s *Store) Suppressed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedSet(s.snap.Suppressed)
}

func encode(snap Snapshot) ([]byte, error) {
	doc := make(map[string]any, len(snap.States)+1)
	for k, st := range snap.States {
		doc[k] = st
	}
	doc[SuppressedKey] = sortedSet(snap.Suppressed)
	return json.MarshalIndent(doc, "", "  ")
}

func decode(payload []byte) (Snapshot, error) {
	snap := emptySnapshot()
	if len(strings.TrimSpace(string(payload))) == 0 {
		return snap, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	for k, raw := range doc {
		if k == SuppressedKey {
			var keys []string
			if err := json.Unmarshal(raw, &keys); err != nil {
				return Snapshot{}, fmt.Errorf("%w: suppression set: %v", ErrCorrupt, err)
			}
			for _, key := range keys {
				snap.Suppressed[key] = true
			}
			continue
		}

		var st model.ScheduleState
		if err := json.Unmarshal(raw, &st); err != nil {
			return Snapshot{}, fmt.Errorf("%w: state %q: %v", ErrCorrupt, k, err)
		}
		if st.ReplyDetectedBy == "" {
			st.ReplyDetectedBy = model.DetectedByNone
		}
		snap.States[k] = st
	}
	return snap, nil
}

func withFileLock(lockPath string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()
	return fn()
}

func writeAtomic(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func sortedKeys(m map[string]model.ScheduleState) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, ok := range m {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
