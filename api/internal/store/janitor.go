package store

import (
	"context"
	"time"

	"music-studio-bot/api/internal/logging"
)

type purger interface {
	PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Janitor раз в interval удаляет историю старше retention. Работает как сервис suture.
type Janitor struct {
	repo      purger
	retention time.Duration
	interval  time.Duration
}

func NewJanitor(repo *ResultRepo, retention, interval time.Duration) *Janitor {
	return newJanitor(repo, retention, interval)
}

func newJanitor(repo purger, retention, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{repo: repo, retention: retention, interval: interval}
}

func (j *Janitor) Serve(ctx context.Context) error {
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		j.purge(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (j *Janitor) purge(ctx context.Context) {
	n, err := j.repo.PurgeOlderThan(ctx, j.retention)
	if err != nil {
		logging.Warn().Err(err).Msg("purge quiz results failed")
		return
	}
	if n > 0 {
		logging.Info().Int64("deleted", n).Dur("retention", j.retention).Msg("old quiz results purged")
	}
}

func (j *Janitor) String() string { return "history-janitor" }
