package runstate

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/exp/slices"

	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/testerrors"
	"github.com/colorfulnotion/evmtests/types"
)

var header = []string{"test_name", "pass_state", "last_run"}

// Store is the persisted pass state of every known test. It has a single
// owner and no internal locking; the file lock only keeps other processes out.
type Store struct {
	path    string
	entries map[types.TestIdentity]types.RunEntry
	lock    *flock.Flock
	now     func() time.Time
}

// Open locks path and loads it. A missing file is an empty store; an
// unreadable one is logged and treated as empty.
func Open(path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", testerrors.ErrSStoreLocked, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, testerrors.ErrSStoreLocked)
	}
	s := &Store{path: path, lock: lock, now: time.Now}
	s.entries, err = load(path)
	if err != nil {
		log.Warn(log.RunState, "run state unreadable, starting empty", "path", path, "err", err)
		s.entries = make(map[types.TestIdentity]types.RunEntry)
	}
	log.Info(log.RunState, "run state loaded", "path", path, "entries", len(s.entries))
	return s, nil
}

// NewMemory returns an empty store that is never written.
func NewMemory() *Store {
	return &Store{entries: make(map[types.TestIdentity]types.RunEntry), now: time.Now}
}

func load(path string) (map[types.TestIdentity]types.RunEntry, error) {
	entries := make(map[types.TestIdentity]types.RunEntry)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", testerrors.ErrSStoreRead, err)
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(header)
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", testerrors.ErrSStoreRead, err)
		}
		if first {
			first = false
			if slices.Equal(rec, header) {
				continue
			}
		}
		entry, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", testerrors.ErrSStoreRead, err)
		}
		entries[types.TestIdentity(rec[0])] = entry
	}
	return entries, nil
}

func parseRow(rec []string) (types.RunEntry, error) {
	var entry types.RunEntry
	state, err := types.ParsePassState(rec[1])
	if err != nil {
		return entry, err
	}
	entry.PassState = state
	if rec[2] != "" {
		if entry.LastRun, err = time.Parse(time.RFC3339, rec[2]); err != nil {
			return entry, fmt.Errorf("last_run of %s: %w", rec[0], err)
		}
	}
	return entry, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Len() int { return len(s.entries) }

func (s *Store) Get(id types.TestIdentity) (types.RunEntry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Update records state for id, stamped with the current time.
func (s *Store) Update(id types.TestIdentity, state types.PassState) {
	s.entries[id] = types.RunEntry{PassState: state, LastRun: s.now().UTC().Truncate(time.Second)}
}

// Reconcile adds a NotRun entry for every new upstream identity and drops
// every stored identity that is no longer upstream. Existing entries are kept as is.
func (s *Store) Reconcile(upstream []types.TestIdentity) (added, removed int) {
	want := make(map[types.TestIdentity]struct{}, len(upstream))
	for _, id := range upstream {
		want[id] = struct{}{}
		if _, ok := s.entries[id]; !ok {
			s.entries[id] = types.RunEntry{PassState: types.NotRun}
			added++
		}
	}
	for id := range s.entries {
		if _, ok := want[id]; !ok {
			delete(s.entries, id)
			removed++
		}
	}
	log.Info(log.RunState, "reconciled with upstream", "added", added, "removed", removed, "entries", len(s.entries))
	return added, removed
}

// PassedFilter returns the identities that count as passed, sorted. Witness
// passes count only when includeWitnessOnly is set.
func (s *Store) PassedFilter(includeWitnessOnly bool) []types.TestIdentity {
	var out []types.TestIdentity
	for id, e := range s.entries {
		if e.PassState == types.PassedProof || (includeWitnessOnly && e.PassState == types.PassedWitness) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Counts tallies entries per pass state.
func (s *Store) Counts() map[types.PassState]int {
	out := make(map[types.PassState]int)
	for _, e := range s.entries {
		out[e.PassState]++
	}
	return out
}

func (s *Store) sortedIDs() []types.TestIdentity {
	ids := make([]types.TestIdentity, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Save writes the whole store, sorted by identity, replacing the file atomically.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, id := range s.sortedIDs() {
		e := s.entries[id]
		lastRun := ""
		if !e.LastRun.IsZero() {
			lastRun = e.LastRun.UTC().Format(time.RFC3339)
		}
		if err := w.Write([]string{string(id), string(e.PassState), lastRun}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := evmcommon.WriteFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: %v", testerrors.ErrSStoreWrite, err)
	}
	log.Debug(log.RunState, "run state saved", "path", s.path, "entries", len(s.entries))
	return nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}
