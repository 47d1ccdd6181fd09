package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/models"
)

// Janitor periodically fails sessions stuck in queued or started past the
// stale cutoff. A worker that died mid-scrape leaves its session in
// "started" with no further events; the sweep converts that silence into a
// worker_timeout error so subscribers and pollers see a terminal answer.
type Janitor struct {
	registry   *Registry
	cron       *cron.Cron
	staleAfter time.Duration
	logger     arbor.ILogger
}

// NewJanitor creates the sweep; Start schedules it.
func NewJanitor(reg *Registry, staleAfter time.Duration, logger arbor.ILogger) *Janitor {
	return &Janitor{
		registry:   reg,
		cron:       cron.New(),
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Start schedules the sweep with a cron spec such as "@every 1m".
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info().
		Str("schedule", schedule).
		Dur("stale_after", j.staleAfter).
		Msg("Stale session janitor started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Sweep fails every session that has sat in queued or started longer than
// the cutoff.
func (j *Janitor) Sweep() {
	ctx := context.Background()

	sessions, err := j.registry.ListSessions(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("Janitor sweep failed to list sessions")
		return
	}

	cutoff := time.Now().UTC().Add(-j.staleAfter)
	swept := 0
	for _, session := range sessions {
		if session.Status != models.StatusQueued && session.Status != models.StatusStarted {
			continue
		}
		if session.UpdatedAt.After(cutoff) {
			continue
		}

		data, _ := json.Marshal(models.ErrorData{
			Reason:  models.ErrorWorkerTimeout,
			Message: "no progress within the stale cutoff",
		})
		if _, err := j.registry.Append(ctx, session.ID, models.EventError, data); err != nil {
			// A worker event can land between list and append; losing that
			// race is fine.
			j.logger.Debug().Err(err).Str("session_id", session.ID).Msg("Janitor append rejected")
			continue
		}
		swept++
		j.logger.Warn().
			Str("session_id", session.ID).
			Str("last_update", session.UpdatedAt.Format(time.RFC3339)).
			Msg("Stale session failed by janitor")
	}

	if swept > 0 {
		j.logger.Info().Int("sessions", swept).Msg("Janitor sweep completed")
	}
}
