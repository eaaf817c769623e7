package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ogero/stt-models/internal/common"
)

const keyPrefix = "fetch : "

// Entry records a single release fetch attempt.
type Entry struct {
	Code         string    `json:"code"`
	Release      string    `json:"release"`
	OutputDir    string    `json:"outputDir"`
	Status       int       `json:"status"`
	PrunedFiles  int       `json:"prunedFiles"`
	PrunedBytes  int64     `json:"prunedBytes"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	ErrorMessage string    `json:"error,omitempty"`
}

// Succeeded reports whether the download command exited with status 0.
func (e Entry) Succeeded() bool {
	return e.Status == 0 && e.ErrorMessage == ""
}

// Store persists fetch attempts.
type Store interface {
	// Record stores the entry.
	Record(entry Entry) error
	// List returns every stored entry, most recent first.
	List() ([]Entry, error)
	// Close flushes pending writes to disk.
	Close() error
}

type badgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens, creating it when needed, the history store at path. Entries expire after ttl, 0 keeps them forever.
func Open(path string, ttl time.Duration) (Store, error) {
	return open(badger.DefaultOptions(path), ttl)
}

// OpenInMemory opens a store that is lost on Close.
func OpenInMemory(ttl time.Duration) (Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), ttl)
}

func open(opts badger.Options, ttl time.Duration) (Store, error) {
	db, err := badger.Open(
		opts.
			WithNumVersionsToKeep(0).
			WithValueLogFileSize(1024 * 1024 * 16).
			WithLogger(&l{}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to badger.Open: %w", err)
	}
	return &badgerStore{db: db, ttl: ttl}, nil
}

// Record stores the entry keyed by its start time and language code.
func (s *badgerStore) Record(entry Entry) error {
	valueJSONBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to json.Marshal: %w", err)
	}

	key := fmt.Sprintf("%s%020d : %s", keyPrefix, entry.StartedAt.UnixNano(), entry.Code)

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), valueJSONBytes)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to store on history: %w", err)
	}

	return nil
}

// List returns every stored entry, most recent first.
func (s *badgerStore) List() ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("failed to json.Unmarshal: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})

	return entries, nil
}

// Close closes the history DB. It's crucial to call it to ensure all the pending updates make their way to disk.
func (s *badgerStore) Close() error {
	return s.db.Close()
}

type l struct{}

func (l *l) Errorf(s string, i ...interface{}) {
	common.Log.Error(fmt.Sprintf(s, i...), "component", "badger")
}

func (l *l) Warningf(s string, i ...interface{}) {
	common.Log.Warn(fmt.Sprintf(s, i...), "component", "badger")
}

func (l *l) Infof(s string, i ...interface{}) {
	common.Log.Debug(fmt.Sprintf(s, i...), "component", "badger")
}

func (l *l) Debugf(s string, i ...interface{}) {
	common.Log.Debug(fmt.Sprintf(s, i...), "component", "badger")
}
