// Package history keeps per-card activity profiles so that inference can
// derive the card aggregates the models were trained with instead of the
// neutral single-transaction defaults.
//
// Two backends are provided: BoltStore for a single instance and RedisStore
// for replicas sharing state.
package history

import (
	"context"
	"fmt"
	"time"

	"fraudscore/internal/common"
	"fraudscore/internal/features"
)

// Observation is one successfully scored transaction.
type Observation struct {
	Amount float64
	At     time.Time
	Lat    *float64
	Long   *float64
}

// Store reads and updates card profiles. Implementations are safe for
// concurrent use; Record is atomic per card.
type Store interface {
	// Lookup returns the profile for card, and false when the card is unknown.
	Lookup(ctx context.Context, card string) (features.CardProfile, bool, error)
	// Record folds obs into the card's profile.
	Record(ctx context.Context, card string, obs Observation) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend   string
	DataPath  string
	RedisAddr string
	TTL       time.Duration
}

// Open returns the store for opts.Backend, or nil for the "none" backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", common.HistoryNone:
		return nil, nil
	case common.HistoryBolt:
		s, err := NewBoltStore(opts.DataPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case common.HistoryRedis:
		s, err := DialRedis(ctx, opts.RedisAddr, opts.TTL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", opts.Backend)
	}
}

func apply(p features.CardProfile, obs Observation) features.CardProfile {
	return p.With(obs.Amount, obs.At, obs.Lat, obs.Long)
}
