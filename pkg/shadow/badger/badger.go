// Package badger stores shadows in a BadgerDB database so pending archive
// writes survive a restart.
//
// Each shadow is one key ("shadow:<id>") whose value is an XDR-encoded
// record carrying the content and its modification time.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/shadow"
	xdr "github.com/rasky/go-xdr/xdr2"
)

const keyPrefix = "shadow:"

// record is the on-disk value of a shadow.
type record struct {
	Data    []byte
	ModTime int64 // unix nanoseconds
}

// Config configures the store.
type Config struct {
	// DBPath is the database directory. Required unless InMemory is set.
	DBPath string

	// InMemory runs badger without touching disk, for tests.
	InMemory bool
}

// Store keeps shadows in BadgerDB.
//
// Thread Safety:
// Every operation runs in its own badger transaction.
type Store struct {
	db *badger.DB
}

var _ shadow.Store = (*Store)(nil)

// New opens (or creates) the database.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.DBPath == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger shadow store: db_path is required")
	}

	opts := badger.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}
	logger.Debug("shadow: badger store opened at %q", cfg.DBPath)
	return &Store{db: db}, nil
}

func key(id shadow.ID) []byte {
	return []byte(keyPrefix + string(id))
}

func encode(r record) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &r); err != nil {
		return nil, fmt.Errorf("failed to encode shadow record: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (record, error) {
	var r record
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &r); err != nil {
		return record{}, fmt.Errorf("failed to decode shadow record: %w", err)
	}
	return r, nil
}

func (s *Store) put(id shadow.ID, data []byte) error {
	value, err := encode(record{Data: data, ModTime: time.Now().UnixNano()})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(id), value)
	})
}

func (s *Store) get(id shadow.ID) (record, error) {
	var r record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("shadow %s: %w", id, shadow.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err = decode(val)
			return err
		})
	})
	return r, err
}

func (s *Store) Create(ctx context.Context) (shadow.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := shadow.NewID()
	if err := s.put(id, nil); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) OpenWriter(ctx context.Context, id shadow.ID) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.get(id); err != nil {
		return nil, err
	}
	return &writer{store: s, id: id}, nil
}

func (s *Store) OpenReader(ctx context.Context, id shadow.ID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(r.Data)), nil
}

func (s *Store) Stat(ctx context.Context, id shadow.ID) (shadow.Info, error) {
	if err := ctx.Err(); err != nil {
		return shadow.Info{}, err
	}
	r, err := s.get(id)
	if err != nil {
		return shadow.Info{}, err
	}
	return shadow.Info{Size: int64(len(r.Data)), ModTime: time.Unix(0, r.ModTime)}, nil
}

func (s *Store) Delete(ctx context.Context, id shadow.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// IDs lists every stored shadow.
func (s *Store) IDs(ctx context.Context) ([]shadow.ID, error) {
	var ids []shadow.ID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			k := string(it.Item().Key())
			ids = append(ids, shadow.ID(k[len(keyPrefix):]))
		}
		return nil
	})
	return ids, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type writer struct {
	store  *Store
	id     shadow.ID
	buf    bytes.Buffer
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("shadow %s: write after close", w.id)
	}
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.store.put(w.id, w.buf.Bytes())
}
