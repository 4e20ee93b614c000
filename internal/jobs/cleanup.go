package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stylesync/quota-server-go/internal/config"
	"github.com/stylesync/quota-server-go/internal/repository"
)

// SubscriptionExpirer reverts lapsed paid accounts to the free tier.
type SubscriptionExpirer interface {
	ExpireSubscriptions(ctx context.Context, batchSize int) (int, error)
}

// CleanupJob prunes expired refresh sessions and sweeps lapsed
// subscriptions so idle accounts do not keep a paid tier until their
// next request.
type CleanupJob struct {
	sessionRepo repository.SessionRepository
	expirer     SubscriptionExpirer
	interval    time.Duration
	done        chan struct{}
}

func NewCleanupJob(
	sessionRepo repository.SessionRepository,
	expirer SubscriptionExpirer,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		sessionRepo: sessionRepo,
		expirer:     expirer,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), config.CleanupJobTimeout)
	defer cancel()

	if j.sessionRepo != nil {
		j.runCleanup(ctx, "sessions", j.sessionRepo.DeleteExpired)
	}
	if j.expirer != nil {
		j.runCleanup(ctx, "expired subscriptions", j.expireSubscriptions)
	}
}

func (j *CleanupJob) expireSubscriptions(ctx context.Context) (int64, error) {
	var total int64
	for {
		n, err := j.expirer.ExpireSubscriptions(ctx, config.ExpiryBatchSize)
		total += int64(n)
		if err != nil {
			return total, err
		}
		// A short batch means the backlog is drained. Rows that failed to
		// revert are retried on the next tick.
		if n < config.ExpiryBatchSize {
			return total, nil
		}
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
