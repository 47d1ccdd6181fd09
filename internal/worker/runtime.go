package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/crypto"
	"github.com/ternarybob/credbridge/internal/models"
	"github.com/ternarybob/credbridge/internal/scraper"
)

// Runtime turns one delivered job into events plus at most one result. It
// owns nothing durable; session state lives entirely behind the emitter.
type Runtime struct {
	cipher     *crypto.Cipher
	scrapers   *scraper.Registry
	emitter    Emitter
	jobTimeout time.Duration
	logger     arbor.ILogger
}

// NewRuntime wires the job handler.
func NewRuntime(cipher *crypto.Cipher, scrapers *scraper.Registry, emitter Emitter, jobTimeout time.Duration, logger arbor.ILogger) *Runtime {
	if jobTimeout <= 0 {
		jobTimeout = 4 * time.Minute
	}
	return &Runtime{
		cipher:     cipher,
		scrapers:   scrapers,
		emitter:    emitter,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// Handle processes one job end to end and maps the outcome to exactly one of
// final, otp_required, or error. It always returns nil: every outcome is
// reported through events, and redelivery of a job whose outcome was already
// reported would only repeat the scrape.
func (r *Runtime) Handle(ctx context.Context, job *models.Job) error {
	log := r.logger
	log.Info().Str("session_id", job.SessionID).Msg("Job started")

	// Decrypt before announcing "started": an unreadable token is a dead
	// job, and failing fast avoids a misleading started event.
	creds, err := r.cipher.Decrypt(job.EncryptedCredentials)
	if err != nil {
		log.Warn().Err(err).Str("session_id", job.SessionID).Msg("Credential token rejected")
		r.emitter.Emit(ctx, job.SessionID, models.EventError, models.ErrorData{
			Reason: models.ErrorDecryptFailed,
		})
		return nil
	}
	defer creds.Scrub()

	r.emitter.Emit(ctx, job.SessionID, models.EventStarted, nil)

	adapter, err := r.scrapers.Get(creds.Provider)
	if err != nil {
		log.Warn().
			Str("session_id", job.SessionID).
			Str("provider", creds.Provider).
			Msg("No adapter for provider")
		r.emitter.Emit(ctx, job.SessionID, models.EventError, models.ErrorData{
			Reason:  models.ErrorUnknownProvider,
			Message: creds.Provider,
		})
		return nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	report, err := adapter.Run(jobCtx, creds)
	switch {
	case err == nil:
		r.emitter.Emit(ctx, job.SessionID, models.EventFinal, report)
		log.Info().Str("session_id", job.SessionID).Msg("Job completed")

	case errors.Is(err, scraper.ErrOtpRequired):
		// A pause, not a failure: the flow restarts as a fresh job once the
		// user supplies the code.
		r.emitter.Emit(ctx, job.SessionID, models.EventOtpRequired, nil)
		log.Info().Str("session_id", job.SessionID).Msg("Job paused for interactive code")

	default:
		log.Warn().Err(err).Str("session_id", job.SessionID).Msg("Job failed")
		r.emitter.Emit(ctx, job.SessionID, models.EventError, models.ErrorData{
			Reason:  models.ErrorWorkerFailed,
			Message: err.Error(),
		})
	}

	return nil
}
