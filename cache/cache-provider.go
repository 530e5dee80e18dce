package cache

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	cachekey "github.com/always-cache/rulecache/pkg/cache-key"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses,
// addressed by keys built with the cachekey package.
// Keys are arbitrary bytes and may contain zero bytes.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Get returns the cache entry for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// If the cache entry has expired, the boolean should be false.
	Get(key cachekey.Key) (CacheEntry, bool, error)
	// Put stores the given entry in the cache under its key.
	Put(ce CacheEntry) error
	// Purge removes the cache entry for the given key.
	Purge(key cachekey.Key) error
	// Has checks if the specified key exists in the cache.
	Has(key cachekey.Key) bool
}

type CacheEntry struct {
	Key         cachekey.Key
	Expires     time.Time
	RequestedAt time.Time
	ReceivedAt  time.Time
	Bytes       []byte
}

// Expired reports whether the entry has expired at the given time.
// Entries with a zero expiry never expire.
func (ce CacheEntry) Expired(now time.Time) bool {
	return !ce.Expires.IsZero() && !now.Before(ce.Expires)
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS entries (
		key BLOB PRIMARY KEY,
		hash INTEGER NOT NULL,
		expires INTEGER,
		requested_at INTEGER,
		received_at INTEGER,
		bytes BLOB
	)`,
		"CREATE INDEX IF NOT EXISTS hash_idx ON entries (hash)",
		"CREATE INDEX IF NOT EXISTS expires_idx ON entries (expires)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, err
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(key cachekey.Key) (CacheEntry, bool, error) {
	entry := CacheEntry{Key: key}
	var exp, req, rec int64
	err := s.db.QueryRow(
		"SELECT expires, requested_at, received_at, bytes FROM entries WHERE hash = ? AND key = ?",
		keyHash(key), []byte(key),
	).Scan(&exp, &req, &rec, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}
	entry.Expires = fromUnix(exp)
	entry.RequestedAt = fromUnix(req)
	entry.ReceivedAt = fromUnix(rec)
	if entry.Expired(time.Now()) {
		return entry, false, nil
	}
	return entry, true, nil
}

func (s SQLiteCache) Put(ce CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO entries
		(key, hash, expires, requested_at, received_at, bytes) VALUES (?, ?, ?, ?, ?, ?)`,
		[]byte(ce.Key), keyHash(ce.Key), toUnix(ce.Expires), toUnix(ce.RequestedAt), toUnix(ce.ReceivedAt), ce.Bytes)
	return err
}

func (s SQLiteCache) Purge(key cachekey.Key) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM entries WHERE hash = ? AND key = ?", keyHash(key), []byte(key))
	return err
}

func (s SQLiteCache) Has(key cachekey.Key) bool {
	_, ok, _ := s.Get(key)
	return ok
}

// Close closes the underlying database.
func (s SQLiteCache) Close() error {
	return s.db.Close()
}

// keyHash is the indexed lookup column. SQLite integers are signed.
func keyHash(key cachekey.Key) int64 {
	return int64(key.Hash())
}

// Times are stored as unix nanoseconds, zero for the zero time.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(nsec int64) time.Time {
	if nsec == 0 {
		return time.Time{}
	}
	return time.Unix(0, nsec)
}
