package ceremony

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/arkrelay/gateway/challenge"
	"github.com/arkrelay/gateway/session"
)

// DefaultSweepInterval is how often expired sessions and challenges
// are reclaimed
const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically reclaims expired sessions and challenges. It
// writes through the same compare-and-set transition primitive as live
// ceremonies, so it can run concurrently with them.
type Sweeper struct {
	sessions   *session.Manager
	challenges *challenge.Manager
	interval   time.Duration
}

// NewSweeper creates a sweeper. A zero interval selects
// DefaultSweepInterval.
func NewSweeper(sessions *session.Manager, challenges *challenge.Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		sessions:   sessions,
		challenges: challenges,
		interval:   interval,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
// Intended to run on its own goroutine, independent of request
// handling.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one cleanup pass over both managers
func (s *Sweeper) SweepOnce(ctx context.Context) {
	swept, err := s.sessions.CleanupExpired(ctx)
	if err != nil {
		log.WithError(err).Warn("session sweep failed")
	} else if swept > 0 {
		log.WithField("count", swept).Info("expired sessions swept")
	}

	removed, err := s.challenges.CleanupExpired(ctx)
	if err != nil {
		log.WithError(err).Warn("challenge sweep failed")
	} else if removed > 0 {
		log.WithField("count", removed).Info("expired challenges removed")
	}
}
