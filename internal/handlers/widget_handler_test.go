package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/common"
	"github.com/ternarybob/credbridge/internal/crypto"
	"github.com/ternarybob/credbridge/internal/models"
	"github.com/ternarybob/credbridge/internal/queue"
	"github.com/ternarybob/credbridge/internal/registry"
)

const widgetTestKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type widgetFixture struct {
	handler *WidgetHandler
	reg     *registry.Registry
	queue   *queue.Manager
	cipher  *crypto.Cipher
	config  *common.Config
	db      *badger.DB
}

func newWidgetFixture(t *testing.T) *widgetFixture {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := queue.NewManager(db, "scrape", time.Minute, 3, logger)
	require.NoError(t, err)

	cipher, err := crypto.NewCipher(widgetTestKey)
	require.NoError(t, err)

	reg := registry.New(registry.NewMemoryStore(), logger)
	config := common.NewDefaultConfig()
	config.Server.SubmitPerMin = 0 // rate limit off unless a test opts in

	return &widgetFixture{
		handler: NewWidgetHandler(reg, cipher, q, config, logger),
		reg:     reg,
		queue:   q,
		cipher:  cipher,
		config:  config,
		db:      db,
	}
}

func (f *widgetFixture) start(sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/widget/"+sessionID+"/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.StartHandler(rec, req, sessionID)
	return rec
}

const validSubmission = `{"provider":"experian","username":"user@example.com","password":"hunter2"}`

func TestStartHandlerAcceptsAndEnqueues(t *testing.T) {
	f := newWidgetFixture(t)
	ctx := context.Background()

	session, err := f.reg.CreateSession(ctx, "u1", "")
	require.NoError(t, err)

	rec := f.start(session.ID, validSubmission)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	updated, err := f.reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, updated.Status)

	job, done, err := f.queue.Receive(ctx)
	require.NoError(t, err)
	defer done()
	assert.Equal(t, session.ID, job.SessionID)

	// The queued payload is an opaque token, never the raw credentials.
	assert.NotContains(t, job.EncryptedCredentials, "hunter2")
	creds, err := f.cipher.Decrypt(job.EncryptedCredentials)
	require.NoError(t, err)
	assert.Equal(t, "experian", creds.Provider)
	assert.Equal(t, "user@example.com", creds.Username)
	assert.Equal(t, "hunter2", creds.Password)
}

func TestStartHandlerMarksQueuedBeforeEnqueue(t *testing.T) {
	f := newWidgetFixture(t)
	ctx := context.Background()

	session, err := f.reg.CreateSession(ctx, "u1", "")
	require.NoError(t, err)

	// With the queue database gone, enqueueing fails after the session has
	// already been marked queued. The error event is only admissible from
	// the queued status, so a worker_failed outcome here proves the status
	// change happens before the job becomes receivable.
	require.NoError(t, f.db.Close())

	rec := f.start(session.ID, validSubmission)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal_error"}`, rec.Body.String())

	updated, err := f.reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatus(models.ErrorWorkerFailed), updated.Status)
}

func TestStartHandlerUnknownSession(t *testing.T) {
	f := newWidgetFixture(t)

	rec := f.start("ses_missing", validSubmission)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, rec.Body.String())

	_, _, err := f.queue.Receive(context.Background())
	assert.ErrorIs(t, err, models.ErrNoMessage, "nothing enqueued for an unknown session")
}

func TestStartHandlerCompletedSession(t *testing.T) {
	f := newWidgetFixture(t)
	ctx := context.Background()

	session, err := f.reg.CreateSession(ctx, "u1", "")
	require.NoError(t, err)
	_, err = f.reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)
	_, err = f.reg.Append(ctx, session.ID, models.EventStarted, nil)
	require.NoError(t, err)
	_, err = f.reg.Append(ctx, session.ID, models.EventFinal, []byte(`{}`))
	require.NoError(t, err)

	rec := f.start(session.ID, validSubmission)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"completed"}`, rec.Body.String())
}

func TestStartHandlerValidation(t *testing.T) {
	f := newWidgetFixture(t)
	ctx := context.Background()

	session, err := f.reg.CreateSession(ctx, "u1", "")
	require.NoError(t, err)

	rec := f.start(session.ID, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_request"}`, rec.Body.String())

	rec = f.start(session.ID, `{"provider":"experian","username":"u"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"missing_fields"}`, rec.Body.String())

	_, _, err = f.queue.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage, "rejected submissions never reach the queue")
}

func TestStartHandlerResubmissionAfterOtp(t *testing.T) {
	f := newWidgetFixture(t)
	ctx := context.Background()

	session, err := f.reg.CreateSession(ctx, "u1", "")
	require.NoError(t, err)
	_, err = f.reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)
	_, err = f.reg.Append(ctx, session.ID, models.EventStarted, nil)
	require.NoError(t, err)
	_, err = f.reg.Append(ctx, session.ID, models.EventOtpRequired, nil)
	require.NoError(t, err)

	rec := f.start(session.ID, `{"provider":"experian","username":"user@example.com","password":"hunter2","otp":"123456"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := f.reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, updated.Status, "an answered code requeues the flow")

	job, done, err := f.queue.Receive(ctx)
	require.NoError(t, err)
	defer done()
	creds, err := f.cipher.Decrypt(job.EncryptedCredentials)
	require.NoError(t, err)
	assert.Equal(t, "123456", creds.OTP)
}

func TestStartHandlerRateLimit(t *testing.T) {
	f := newWidgetFixture(t)
	f.config.Server.SubmitPerMin = 1
	f.config.Server.SubmitBurst = 2
	ctx := context.Background()

	session, err := f.reg.CreateSession(ctx, "u1", "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, f.start(session.ID, validSubmission).Code)
	assert.Equal(t, http.StatusOK, f.start(session.ID, validSubmission).Code)

	rec := f.start(session.ID, validSubmission)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"rate_limited"}`, rec.Body.String())
}
