package middleware

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/accessd/internal/models"
)

// DatabaseRateStore keeps rate limit counters in the primary SQL database so that
// every replica sharing it enforces the same limits.
type DatabaseRateStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseRateStore constructs a database-backed RateStore.
func NewDatabaseRateStore(db *gorm.DB) (*DatabaseRateStore, error) {
	if db == nil {
		return nil, errors.New("ratelimit: database handle is required")
	}
	return &DatabaseRateStore{db: db, now: time.Now}, nil
}

// Increment atomically bumps the counter for key, starting a new window when the
// previous one has closed.
func (s *DatabaseRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.now().UTC()
	var counter models.RateCounter

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&counter, "bucket = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			counter = models.RateCounter{Bucket: key, Count: 1, WindowEnd: now.Add(window)}
			return tx.Create(&counter).Error
		}
		if err != nil {
			return err
		}

		if now.After(counter.WindowEnd) {
			counter.Count = 1
			counter.WindowEnd = now.Add(window)
		} else {
			counter.Count++
		}
		return tx.Save(&counter).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return counter.Count, counter.WindowEnd.Sub(now), nil
}

// Sweep deletes counters whose window has closed.
func (s *DatabaseRateStore) Sweep(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("window_end < ?", s.now().UTC()).
		Delete(&models.RateCounter{})
	return result.RowsAffected, result.Error
}
