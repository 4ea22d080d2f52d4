// ABOUTME: Append-only version store on BadgerDB
// ABOUTME: Atomic numbering, compare-and-swap appends and newest-first listing

package version

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nainya/artifactstore/pkg/content"
	"github.com/nainya/artifactstore/pkg/storage"
)

// Prefixes for version storage
const (
	PREFIX_VERSION = uint32(6000) // (artifactID, number) -> version record
	PREFIX_LATEST  = uint32(6300) // (artifactID) -> latest number
)

// DefaultCacheSize is the number of versions kept in the read cache
const DefaultCacheSize = 1024

const lockStripes = 256

type cacheKey struct {
	artifactID string
	number     int64
}

// Store manages immutable artifact versions
type Store struct {
	db    *storage.DB
	cache *lru.Cache[cacheKey, *Version]
	now   func() time.Time

	// appends on one artifact are serialized by its stripe
	locks [lockStripes]sync.Mutex
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the creation timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a version store. cacheSize <= 0 uses DefaultCacheSize.
func NewStore(db *storage.DB, cacheSize int, opts ...Option) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, *Version](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create version cache: %w", err)
	}

	s := &Store{db: db, cache: cache, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append stores a new version numbered latest+1
func (s *Store) Append(ctx context.Context, artifactID string, doc content.Document, name, authorID string) (*Version, error) {
	return s.append(ctx, artifactID, -1, doc, name, authorID)
}

// AppendIfLatest stores a new version only if expected is still the latest
// number. Otherwise it returns a *MismatchError and writes nothing.
func (s *Store) AppendIfLatest(ctx context.Context, artifactID string, expected int64, doc content.Document, name, authorID string) (*Version, error) {
	if expected < 0 {
		return nil, fmt.Errorf("version: expected version must be >= 0, got %d", expected)
	}
	return s.append(ctx, artifactID, expected, doc, name, authorID)
}

func (s *Store) append(ctx context.Context, artifactID string, expected int64, doc content.Document, name, authorID string) (*Version, error) {
	if artifactID == "" {
		return nil, fmt.Errorf("version: artifact id is required")
	}
	if err := validateText(artifactID, name, authorID); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}

	mu := s.lockFor(artifactID)
	mu.Lock()
	defer mu.Unlock()

	var created *Version
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		latest, err := readLatest(txn, artifactID)
		if err != nil {
			return err
		}

		if expected >= 0 && expected != latest {
			mismatch := &MismatchError{ArtifactID: artifactID, Expected: expected, Latest: latest}
			if latest > 0 {
				current, err := s.readVersion(txn, artifactID, latest)
				if err != nil {
					return err
				}
				mismatch.Current = current.Clone()
			}
			return mismatch
		}

		v := &Version{
			ArtifactID: artifactID,
			Number:     latest + 1,
			Content:    doc.Clone(),
			Name:       name,
			AuthorID:   authorID,
			CreatedAt:  s.now().UTC(),
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode version: %w", err)
		}

		// record and latest pointer commit together
		if err := txn.Set(versionKey(artifactID, v.Number), data); err != nil {
			return err
		}
		if err := txn.Set(latestKey(artifactID), encodeNumber(v.Number)); err != nil {
			return err
		}

		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Add(cacheKey{artifactID, created.Number}, created)
	return created.Clone(), nil
}

// Get returns one version or ErrNotFound
func (s *Store) Get(ctx context.Context, artifactID string, number int64) (*Version, error) {
	if v, ok := s.cache.Get(cacheKey{artifactID, number}); ok {
		return v.Clone(), nil
	}

	var v *Version
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		v, err = s.readVersion(txn, artifactID, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// Latest returns the latest version number, 0 when the artifact has none
func (s *Store) Latest(ctx context.Context, artifactID string) (int64, error) {
	var latest int64
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		latest, err = readLatest(txn, artifactID)
		return err
	})
	return latest, err
}

// Head returns the latest version or ErrNotFound
func (s *Store) Head(ctx context.Context, artifactID string) (*Version, error) {
	var v *Version
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		latest, err := readLatest(txn, artifactID)
		if err != nil {
			return err
		}
		if latest == 0 {
			return notFound(artifactID, 0)
		}
		v, err = s.readVersion(txn, artifactID, latest)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// List returns every version of the artifact, newest first. Each call
// reads current state; an unknown artifact yields an empty slice.
func (s *Store) List(ctx context.Context, artifactID string) ([]*Version, error) {
	versions := []*Version{}
	prefix := versionPrefix(artifactID)

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(storage.PrefixEnd(prefix)); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			v, err := decodeVersion(data)
			if err != nil {
				return err
			}
			versions = append(versions, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// ListArtifacts returns the ids of all artifacts with at least one version
func (s *Store) ListArtifacts(ctx context.Context) ([]string, error) {
	ids := []string{}
	prefix := storage.EncodeKey(PREFIX_LATEST)

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			vals, err := storage.ExtractValues(it.Item().KeyCopy(nil))
			if err != nil {
				return fmt.Errorf("decode latest key: %w", err)
			}
			if len(vals) < 1 {
				return fmt.Errorf("decode latest key: missing artifact id")
			}
			ids = append(ids, string(vals[0].Str))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) readVersion(txn *badger.Txn, artifactID string, number int64) (*Version, error) {
	if v, ok := s.cache.Get(cacheKey{artifactID, number}); ok {
		return v, nil
	}
	if number <= 0 {
		return nil, notFound(artifactID, number)
	}

	data, ok, err := storage.GetValue(txn, versionKey(artifactID, number))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(artifactID, number)
	}

	v, err := decodeVersion(data)
	if err != nil {
		return nil, err
	}
	s.cache.Add(cacheKey{artifactID, number}, v)
	return v, nil
}

// validateText keeps ids and names representable in the JSON record
func validateText(artifactID, name, authorID string) error {
	for _, f := range []struct{ field, value string }{
		{"artifact id", artifactID},
		{"name", name},
		{"author id", authorID},
	} {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("version: %s %q: %w", f.field, f.value, content.ErrInvalidUTF8)
		}
	}
	return nil
}

func (s *Store) lockFor(artifactID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(artifactID))
	return &s.locks[h.Sum32()%lockStripes]
}

func readLatest(txn *badger.Txn, artifactID string) (int64, error) {
	data, ok, err := storage.GetValue(txn, latestKey(artifactID))
	if err != nil || !ok {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt latest pointer for %s", artifactID)
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

func decodeVersion(data []byte) (*Version, error) {
	var v Version
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	if v.Content == nil {
		v.Content = content.Document{}
	}
	return &v, nil
}

func encodeNumber(n int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return buf[:]
}

func versionPrefix(artifactID string) []byte {
	return storage.EncodeKey(PREFIX_VERSION, storage.NewStringValue(artifactID))
}

func versionKey(artifactID string, number int64) []byte {
	return storage.EncodeKey(PREFIX_VERSION, storage.NewStringValue(artifactID), storage.NewUint64Value(uint64(number)))
}

func latestKey(artifactID string) []byte {
	return storage.EncodeKey(PREFIX_LATEST, storage.NewStringValue(artifactID))
}
