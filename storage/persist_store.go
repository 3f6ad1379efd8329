package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const markerPrefix = "marker/"

// ParseMarker records which upstream commit a subgroup's artifacts were built from.
type ParseMarker struct {
	Commit   string    `json:"commit"`
	Scheme   string    `json:"scheme"`
	ChainID  uint64    `json:"chain_id"`
	ParsedAt time.Time `json:"parsed_at"`
	Files    int       `json:"files"`
}

// MarkerStore wraps LevelDB for the parse markers of each fixture subgroup.
// LevelDB handles its own synchronization.
type MarkerStore struct {
	db *leveldb.DB
}

// NewMarkerStore opens or creates a LevelDB database at path.
// An empty path uses in-memory storage.
func NewMarkerStore(path string) (*MarkerStore, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open marker database at %s: %w", path, err)
	}
	return &MarkerStore{db: db}, nil
}

func NewMemoryMarkerStore() (*MarkerStore, error) {
	return NewMarkerStore("")
}

func markerKey(subgroup string) []byte {
	return []byte(markerPrefix + subgroup)
}

// Get returns (nil, false, nil) if subgroup has never been parsed.
func (ms *MarkerStore) Get(subgroup string) (*ParseMarker, bool, error) {
	data, err := ms.db.Get(markerKey(subgroup), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get %s: %w", subgroup, err)
	}
	var m ParseMarker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("decode marker %s: %w", subgroup, err)
	}
	return &m, true, nil
}

func (ms *MarkerStore) Put(subgroup string, m *ParseMarker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return ms.db.Put(markerKey(subgroup), data, nil)
}

func (ms *MarkerStore) Delete(subgroup string) error {
	return ms.db.Delete(markerKey(subgroup), nil)
}

// IsStale reports whether subgroup must be re-parsed for commit, scheme and chainID.
// A missing marker is stale.
func (ms *MarkerStore) IsStale(subgroup, commit, scheme string, chainID uint64) (bool, error) {
	m, ok, err := ms.Get(subgroup)
	if err != nil || !ok {
		return true, err
	}
	return m.Commit != commit || m.Scheme != scheme || m.ChainID != chainID, nil
}

// All returns every marker keyed by subgroup.
func (ms *MarkerStore) All() (map[string]*ParseMarker, error) {
	iter := ms.db.NewIterator(util.BytesPrefix([]byte(markerPrefix)), nil)
	defer iter.Release()

	out := make(map[string]*ParseMarker)
	for iter.Next() {
		var m ParseMarker
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("decode marker %s: %w", iter.Key(), err)
		}
		out[string(iter.Key()[len(markerPrefix):])] = &m
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate markers: %w", err)
	}
	return out, nil
}

func (ms *MarkerStore) Close() error {
	return ms.db.Close()
}
