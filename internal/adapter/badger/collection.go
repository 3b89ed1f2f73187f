// Package badger stores the vector collection on local disk and searches it
// by brute-force cosine distance.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"logrca/internal/fault"
	"logrca/internal/vector"
)

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (creating if needed) a database under dir. An empty dir opens
// an in-memory database.
func Open(dir string, logger *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create vector directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// Collection is one named vector collection inside a badger database.
// Keys are "<name>/meta/dim" and "<name>/doc/<id>".
type Collection struct {
	db    *badger.DB
	name  string
	owned bool
}

var _ vector.Collection = (*Collection)(nil)

// NewCollection uses db without taking ownership of it.
func NewCollection(db *badger.DB, name string) *Collection {
	return &Collection{db: db, name: name}
}

// OpenCollection opens a database under dir that Close will shut down.
func OpenCollection(dir, name string, logger *slog.Logger) (*Collection, error) {
	db, err := Open(dir, logger)
	if err != nil {
		return nil, err
	}
	return &Collection{db: db, name: name, owned: true}, nil
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) dimKey() []byte {
	return []byte(c.name + "/meta/dim")
}

func (c *Collection) docPrefix() []byte {
	return []byte(c.name + "/doc/")
}

func (c *Collection) docKey(id string) []byte {
	return append(c.docPrefix(), id...)
}

func readDim(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var dim int
	err = item.Value(func(val []byte) error {
		dim, err = strconv.Atoi(string(val))
		return err
	})
	return dim, err
}

func mismatch(op string, have, got int) error {
	return fault.New(fault.KindDimension, op,
		fmt.Errorf("%w: have %d, got %d", fault.ErrDimensionMismatch, have, got))
}

// Dim returns the vector length of the stored documents, 0 when the
// collection is empty.
func (c *Collection) Dim(ctx context.Context) (int, error) {
	var dim int
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		dim, err = readDim(txn, c.dimKey())
		return err
	})
	if err != nil {
		return 0, fault.New(fault.KindIO, "badger.dim", err)
	}
	return dim, nil
}

// Upsert writes the documents and, for an empty collection, its dimension in
// one batch so a failed flush leaves neither behind.
func (c *Collection) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Vector)

	have, err := c.Dim(ctx)
	if err != nil {
		return err
	}
	if have != 0 && have != dim {
		return mismatch("badger.upsert", have, dim)
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range records {
		if len(r.Vector) != dim {
			return mismatch("badger.upsert", dim, len(r.Vector))
		}
		raw, err := json.Marshal(r)
		if err != nil {
			return fault.New(fault.KindParse, "badger.upsert", err)
		}
		if err := wb.Set(c.docKey(r.ID), raw); err != nil {
			return fault.New(fault.KindIO, "badger.upsert", err)
		}
	}
	if have == 0 {
		if err := wb.Set(c.dimKey(), []byte(strconv.Itoa(dim))); err != nil {
			return fault.New(fault.KindIO, "badger.upsert", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fault.New(fault.KindIO, "badger.upsert", err)
	}
	return nil
}

type scored struct {
	rec  *vector.Record
	dist float32
}

func (c *Collection) Query(ctx context.Context, vectors [][]float32, topK int) ([][]vector.Hit, error) {
	out := make([][]vector.Hit, len(vectors))
	for i := range out {
		out[i] = []vector.Hit{}
	}
	if len(vectors) == 0 || topK <= 0 {
		return out, nil
	}

	var records []vector.Record
	err := c.db.View(func(txn *badger.Txn) error {
		have, err := readDim(txn, c.dimKey())
		if err != nil {
			return err
		}
		for _, v := range vectors {
			if have != 0 && len(v) != have {
				return mismatch("badger.query", have, len(v))
			}
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := c.docPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r vector.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fault.New(fault.KindParse, "badger.query", err)
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fault.New(fault.KindIO, "badger.query", err)
	}

	for i, q := range vectors {
		candidates := make([]scored, len(records))
		for n := range records {
			candidates[n] = scored{rec: &records[n], dist: cosineDistance(q, records[n].Vector)}
		}
		sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].dist < candidates[b].dist })
		if len(candidates) > topK {
			candidates = candidates[:topK]
		}
		hits := make([]vector.Hit, len(candidates))
		for n, cand := range candidates {
			hits[n] = vector.Hit{
				ID:       cand.rec.ID,
				Document: cand.rec.Document,
				Metadata: cand.rec.Metadata,
				Distance: cand.dist,
			}
		}
		out[i] = hits
	}
	return out, nil
}

// Reset removes every key of the collection, including its dimension.
func (c *Collection) Reset(ctx context.Context) error {
	if err := c.db.DropPrefix([]byte(c.name + "/")); err != nil {
		return fault.New(fault.KindIO, "badger.reset", err)
	}
	slog.InfoContext(ctx, "vector collection reset", "collection", c.name)
	return nil
}

func (c *Collection) Count(ctx context.Context) (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := c.docPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fault.New(fault.KindIO, "badger.count", err)
	}
	return n, nil
}

func (c *Collection) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}

// cosineDistance is 1 - cos(a, b). A zero vector is at distance 1 from
// everything.
func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}
