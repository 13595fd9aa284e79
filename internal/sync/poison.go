package sync

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jamiequint/groundeffect/internal/models"
)

var poisonBucket = []byte("poison")

// PoisonSet persists the ids of messages/events that failed to parse, so a
// repeated sync pass does not retry them forever. Grounded on the teacher's
// BoltCache (lib/cache.go): a single bbolt file with one bucket per
// namespace, here narrowed to the one namespace the orchestrator needs.
type PoisonSet struct {
	db *bolt.DB
}

// OpenPoisonSet opens (creating if needed) the bbolt file at path for the
// writer process, which owns the only read-write handle.
func OpenPoisonSet(path string) (*PoisonSet, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, models.Fatal("open poison set", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(poisonBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, models.Fatal("create poison bucket", err)
	}
	return &PoisonSet{db: db}, nil
}

// OpenPoisonSetReadOnly opens path without requesting bbolt's file lock, so
// the query server process can inspect poison-set size for get_sync_status
// while the daemon's writer handle stays open concurrently.
func OpenPoisonSetReadOnly(path string) (*PoisonSet, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, models.Fatal("open poison set read-only", err)
	}
	return &PoisonSet{db: db}, nil
}

// Count returns the number of quarantined ids.
func (p *PoisonSet) Count() (int, error) {
	var n int
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(poisonBucket)
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Add marks id as poisoned, storing the time it was quarantined.
func (p *PoisonSet) Add(id string) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(poisonBucket)
		return b.Put([]byte(id), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

// Contains reports whether id has already been quarantined.
func (p *PoisonSet) Contains(id string) (bool, error) {
	var found bool
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(poisonBucket)
		found = b.Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

// Forget removes id from the poison set, used when an operator explicitly
// retries a quarantined item.
func (p *PoisonSet) Forget(id string) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(poisonBucket)
		return b.Delete([]byte(id))
	})
}

// Close closes the underlying bbolt file.
func (p *PoisonSet) Close() error {
	return p.db.Close()
}
