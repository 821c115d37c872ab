// internal/notification/sweeper.go

package notification

import (
	"context"
	"log"
	"time"
)

// ExpirySweeper deletes notifications past their expires_at
type ExpirySweeper struct {
	repo     Repository
	interval time.Duration
	stopCh   chan struct{}
}

// NewExpirySweeper creates a sweeper running at the given interval
func NewExpirySweeper(repo Repository, interval time.Duration) *ExpirySweeper {
	if interval == 0 {
		interval = 1 * time.Hour
	}

	return &ExpirySweeper{
		repo:     repo,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the sweeper
func (s *ExpirySweeper) Start(ctx context.Context) {
	log.Printf("Starting notification expiry sweeper with interval: %v", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			log.Println("Stopping notification expiry sweeper")
			return
		case <-ctx.Done():
			log.Println("Context cancelled, stopping notification expiry sweeper")
			return
		}
	}
}

// Stop stops the sweeper
func (s *ExpirySweeper) Stop() {
	close(s.stopCh)
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	deleted, err := s.repo.DeleteExpired(ctx, time.Now())
	if err != nil {
		log.Printf("Error deleting expired notifications: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Deleted %d expired notifications", deleted)
	}
}
