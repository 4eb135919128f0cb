package checkpoints

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var entriesBucket = []byte("Checkpoints")

// Entry describes one saved checkpoint
type Entry struct {
	Epoch     int       `json:"epoch"`
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry indexes saved checkpoints by epoch in a bbolt database
type Registry struct {
	db *bbolt.DB
}

// OpenRegistry opens (or creates) the registry database at path
func OpenRegistry(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close closes the underlying database
func (r *Registry) Close() error {
	return r.db.Close()
}

// Record hashes the checkpoint file at path and stores an entry for epoch,
// replacing any earlier entry for the same epoch.
func (r *Registry) Record(epoch int, path string, format CheckpointFormat) (*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("failed to hash checkpoint: %w", err)
	}

	entry := &Entry{
		Epoch:     epoch,
		Path:      path,
		Format:    format.String(),
		Size:      size,
		SHA256:    hex.EncodeToString(h.Sum(nil)),
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}

	err = r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).Put(epochKey(epoch), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store entry: %w", err)
	}
	return entry, nil
}

// Get returns the entry for epoch
func (r *Registry) Get(epoch int) (*Entry, error) {
	var entry *Entry
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(entriesBucket).Get(epochKey(epoch))
		if data == nil {
			return fmt.Errorf("no checkpoint recorded for epoch %d", epoch)
		}
		return json.Unmarshal(data, &entry)
	})
	return entry, err
}

// List returns every entry in epoch order
func (r *Registry) List() ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

// Latest returns the entry with the highest epoch
func (r *Registry) Latest() (*Entry, error) {
	var entry *Entry
	err := r.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(entriesBucket).Cursor().Last()
		if v == nil {
			return fmt.Errorf("registry is empty")
		}
		return json.Unmarshal(v, &entry)
	})
	return entry, err
}

// Verify checks that the file behind entry still has the recorded hash
func (e *Entry) Verify() error {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != e.SHA256 {
		return fmt.Errorf("checkpoint %s has hash %s, recorded %s", e.Path, got, e.SHA256)
	}
	return nil
}

// Keys are big-endian so bbolt's byte ordering matches epoch ordering.
func epochKey(epoch int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(epoch))
	return key
}
