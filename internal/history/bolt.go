package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"fraudscore/internal/features"
)

const (
	boltFile    = "card-history.db"
	cardsBucket = "cards" // Bucket holding one JSON profile per card number
	openTimeout = 1 * time.Second
)

// BoltStore keeps card profiles in a local BoltDB file.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the history database under dataPath.
func NewBoltStore(dataPath string) (*BoltStore, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := bbolt.Open(filepath.Join(dataPath, boltFile), 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(cardsBucket)); err != nil {
			return fmt.Errorf("create cards bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Lookup reads the profile for card.
func (s *BoltStore) Lookup(_ context.Context, card string) (features.CardProfile, bool, error) {
	var (
		p     features.CardProfile
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(cardsBucket)).Get([]byte(card))
		if data == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshal profile: %w", err)
		}
		return nil
	})
	return p, found, err
}

// Record updates the card's profile in a single write transaction.
func (s *BoltStore) Record(_ context.Context, card string, obs Observation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cardsBucket))

		var p features.CardProfile
		if data := b.Get([]byte(card)); data != nil {
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("unmarshal profile: %w", err)
			}
		}

		data, err := json.Marshal(apply(p, obs))
		if err != nil {
			return fmt.Errorf("marshal profile: %w", err)
		}
		return b.Put([]byte(card), data)
	})
}

// Close closes the database. Closing twice is a no-op.
func (s *BoltStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
