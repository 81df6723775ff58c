// Package state holds the tracked shipments and mirrors them to a JSON file.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/logging"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/metrics"
)

// ErrNotFound is returned when a tracking number is not in the store.
var ErrNotFound = errors.New("tracking number not tracked")

// Target is an opaque handle to the channel notified on status changes.
// Numeric targets are written as JSON numbers so files produced by older
// versions of the bot (which stored integer channel ids) stay interchangeable.
type Target string

// MarshalJSON implements json.Marshaler.
func (t Target) MarshalJSON() ([]byte, error) {
	s := string(t)
	if _, err := strconv.ParseUint(s, 10, 64); err == nil && (s == "0" || s[0] != '0') {
		return []byte(s), nil
	}
	return json.Marshal(string(t))
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (t *Target) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Target(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("channel id: %w", err)
	}
	*t = Target(n.String())
	return nil
}

// Shipment is the value stored per tracking number.
type Shipment struct {
	// LastStatus is the "<timestamp>: <description>" fingerprint of the last seen trace.
	LastStatus string `json:"last_status"`
	Target     Target `json:"channel_id"`
}

// Store owns the tracked shipments. Every mutation is persisted before the
// lock is released, so command and poll mutations never interleave between
// the in-memory change and the file write.
type Store struct {
	path string

	mu      sync.Mutex
	entries map[string]Shipment
}

// New returns an empty store backed by path. Call Load to populate it.
func New(path string) *Store {
	return &Store{path: path, entries: make(map[string]Shipment)}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load merges the backing file into the store. A missing file leaves the
// store empty and is not an error. Other failures are logged and returned;
// whatever was merged before the failure is kept.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := logging.For("state")

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", s.path).Msg("no state file found, starting fresh")
			return nil
		}
		log.Error().Err(err).Str("path", s.path).Msg("failed to read state file")
		return fmt.Errorf("load state: %w", err)
	}
	loaded, err := decode(data)
	for k, v := range loaded {
		s.entries[k] = v
	}
	metrics.SetTracked(len(s.entries))
	if err != nil {
		log.Error().Err(err).Str("path", s.path).Int("merged", len(loaded)).Msg("failed to parse state file")
		return fmt.Errorf("unmarshal state: %w", err)
	}
	log.Info().Str("path", s.path).Int("tracked", len(s.entries)).Msg("state loaded")
	return nil
}

// decode parses the state object entry by entry so one malformed value does
// not discard the others.
func decode(data []byte) (map[string]Shipment, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]Shipment, len(raw))
	var errs []error
	for k, v := range raw {
		var sh Shipment
		if err := json.Unmarshal(v, &sh); err != nil {
			errs = append(errs, fmt.Errorf("entry %q: %w", k, err))
			continue
		}
		out[k] = sh
	}
	return out, errors.Join(errs...)
}

// Get returns the shipment stored under number.
func (s *Store) Get(number string) (Shipment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.entries[number]
	return sh, ok
}

// Len returns the number of tracked shipments.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entry is a point-in-time copy of one stored shipment.
type Entry struct {
	Number string
	Shipment
}

// Snapshot returns a copy of all entries sorted by tracking number.
// Later mutations do not affect the returned slice.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for k, v := range s.entries {
		out = append(out, Entry{Number: k, Shipment: v})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Upsert inserts or overwrites the shipment for number and persists the store.
// A failed write is logged and returned; the in-memory change is kept.
func (s *Store) Upsert(number string, sh Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[number] = sh
	return s.saveLocked()
}

// Remove deletes number and persists the store. It returns ErrNotFound,
// without writing, when number is not tracked.
func (s *Store) Remove(number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[number]; !ok {
		return ErrNotFound
	}
	delete(s.entries, number)
	return s.saveLocked()
}

// UpdateStatus replaces the stored fingerprint for number when it differs
// from status. It reports whether the entry changed. The comparison reads the
// current entry, so an entry removed while its fetch was in flight is not
// resurrected (ErrNotFound).
func (s *Store) UpdateStatus(number, status string) (Shipment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.entries[number]
	if !ok {
		return Shipment{}, false, ErrNotFound
	}
	if sh.LastStatus == status {
		return sh, false, nil
	}
	sh.LastStatus = status
	s.entries[number] = sh
	return sh, true, s.saveLocked()
}

// Save persists the current mapping.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the full mapping to a temp file in the same directory and
// renames it over the state file. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	metrics.SetTracked(len(s.entries))
	if err := writeAtomic(s.path, s.entries); err != nil {
		metrics.IncSaveFailed()
		logging.For("state").Error().Err(err).Str("path", s.path).Msg("failed to save state")
		return err
	}
	logging.For("state").Debug().Str("path", s.path).Int("tracked", len(s.entries)).Msg("state saved")
	return nil
}

func writeAtomic(path string, m map[string]Shipment) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		cleanup()
		return fmt.Errorf("chmod state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
