package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/models"
)

func newTestRegistry() *Registry {
	return New(NewMemoryStore(), arbor.NewLogger())
}

func TestCreateSession(t *testing.T) {
	reg := newTestRegistry()

	session, err := reg.CreateSession(context.Background(), "user-1", "experian")
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.StatusCreated, session.Status)
	assert.Equal(t, 0, session.EventCount)

	other, err := reg.CreateSession(context.Background(), "user-1", "experian")
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, other.ID)
}

func TestAppend_AssignsSequenceAndStatus(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	queued, err := reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, queued.Seq)

	started, err := reg.Append(ctx, session.ID, models.EventStarted, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, started.Seq)

	current, err := reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, current.Status)
	assert.Equal(t, 2, current.EventCount)
}

func TestAppend_UnknownSession(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Append(context.Background(), "ses_missing", models.EventQueued, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppend_IllegalTransitions(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	// final straight from created: the job never even queued.
	_, err = reg.Append(ctx, session.ID, models.EventFinal, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// Completed sessions accept nothing further.
	_, err = reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)
	_, err = reg.Append(ctx, session.ID, models.EventStarted, nil)
	require.NoError(t, err)
	_, err = reg.Append(ctx, session.ID, models.EventFinal, json.RawMessage(`{"provider":"experian"}`))
	require.NoError(t, err)

	_, err = reg.Append(ctx, session.ID, models.EventQueued, nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestAppend_RedeliveredStartIsTolerated(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	_, err = reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)
	_, err = reg.Append(ctx, session.ID, models.EventStarted, nil)
	require.NoError(t, err)
	_, err = reg.Append(ctx, session.ID, models.EventStarted, nil)
	assert.NoError(t, err)
}

func TestAppend_ErrorReasonBecomesStatus(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	_, err = reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)

	data, _ := json.Marshal(models.ErrorData{Reason: models.ErrorDecryptFailed})
	_, err = reg.Append(ctx, session.ID, models.EventError, data)
	require.NoError(t, err)

	current, err := reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatus("decrypt_failed"), current.Status)
	assert.True(t, current.Status.IsErrorKind())
	assert.False(t, current.Status.Terminal())
}

func TestGetResult_OnlyAfterFinal(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	_, err = reg.GetResult(ctx, session.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = reg.GetResult(ctx, "ses_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)
	_, err = reg.Append(ctx, session.ID, models.EventStarted, nil)
	require.NoError(t, err)

	report := json.RawMessage(`{"provider":"experian","score":720}`)
	_, err = reg.Append(ctx, session.ID, models.EventFinal, report)
	require.NoError(t, err)

	result, err := reg.GetResult(ctx, session.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(report), string(result))

	current, err := reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, current.Status)
	require.NotNil(t, current.CompletedAt)
}

func TestSubscribe_ReplaysHistoryInOrder(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	_, err = reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)
	_, err = reg.Append(ctx, session.ID, models.EventStarted, nil)
	require.NoError(t, err)

	sub, err := reg.Subscribe(ctx, session.ID)
	require.NoError(t, err)
	defer sub.Close()

	first := receiveEvent(t, sub)
	second := receiveEvent(t, sub)
	assert.Equal(t, models.EventQueued, first.Type)
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, models.EventStarted, second.Type)
	assert.Equal(t, 2, second.Seq)

	// Live delivery continues after replay.
	_, err = reg.Append(ctx, session.ID, models.EventOtpRequired, nil)
	require.NoError(t, err)
	third := receiveEvent(t, sub)
	assert.Equal(t, models.EventOtpRequired, third.Type)
	assert.Equal(t, 3, third.Seq)
}

func TestSubscribe_ReplaysHistoryLongerThanLiveHeadroom(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	_, err = reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)
	total := subscriberBuffer + 45
	for n := 1; n < total; n++ {
		_, err = reg.Append(ctx, session.ID, models.EventStarted, nil)
		require.NoError(t, err)
	}

	sub, err := reg.Subscribe(ctx, session.ID)
	require.NoError(t, err)
	defer sub.Close()

	// A late subscriber gets every recorded event, not a truncated tail.
	for n := 1; n <= total; n++ {
		event := receiveEvent(t, sub)
		assert.Equal(t, n, event.Seq)
	}

	_, err = reg.Append(ctx, session.ID, models.EventOtpRequired, nil)
	require.NoError(t, err)
	live := receiveEvent(t, sub)
	assert.Equal(t, total+1, live.Seq)
	assert.Equal(t, models.EventOtpRequired, live.Type)
}

func TestSubscribe_UnknownSessionTolerated(t *testing.T) {
	reg := newTestRegistry()

	sub, err := reg.Subscribe(context.Background(), "ses_not_yet")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case event := <-sub.Events():
		t.Fatalf("expected no events, got %v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_ConcurrentSubscribersSeeEverySeqOnce(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	const subscribers = 4
	const extraEvents = 20

	_, err = reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	seqs := make([][]int, subscribers)
	for i := 0; i < subscribers; i++ {
		sub, err := reg.Subscribe(ctx, session.ID)
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			defer sub.Close()
			for event := range sub.Events() {
				seqs[i] = append(seqs[i], event.Seq)
				if len(seqs[i]) == extraEvents+1 {
					return
				}
			}
		}(i, sub)
	}

	for n := 0; n < extraEvents; n++ {
		_, err = reg.Append(ctx, session.ID, models.EventStarted, nil)
		require.NoError(t, err)
	}
	wg.Wait()

	for i := 0; i < subscribers; i++ {
		require.Len(t, seqs[i], extraEvents+1, "subscriber %d", i)
		for j, seq := range seqs[i] {
			assert.Equal(t, j+1, seq, "subscriber %d position %d", i, j)
		}
	}
}

func TestBroadcast_SlowSubscriberEvictedOthersUnaffected(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	slow, err := reg.Subscribe(ctx, session.ID)
	require.NoError(t, err)
	healthy, err := reg.Subscribe(ctx, session.ID)
	require.NoError(t, err)
	defer healthy.Close()

	// Never read from slow; overflow its buffer.
	_, err = reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)
	for n := 0; n < subscriberBuffer+1; n++ {
		_, err = reg.Append(ctx, session.ID, models.EventStarted, nil)
		require.NoError(t, err)
		receiveEvent(t, healthy)
	}
	receiveEvent(t, healthy) // drain the queued event replayed above

	// The slow subscriber's channel is closed on eviction.
	drainUntilClosed(t, slow)
}

func receiveEvent(t *testing.T, sub *Subscription) *models.Event {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func drainUntilClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription never closed")
		}
	}
}

func TestJanitor_SweepFailsStaleSessions(t *testing.T) {
	store := NewMemoryStore()
	reg := New(store, arbor.NewLogger())
	ctx := context.Background()

	stale, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)
	_, err = reg.Append(ctx, stale.ID, models.EventQueued, nil)
	require.NoError(t, err)
	_, err = reg.Append(ctx, stale.ID, models.EventStarted, nil)
	require.NoError(t, err)

	fresh, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)
	_, err = reg.Append(ctx, fresh.ID, models.EventQueued, nil)
	require.NoError(t, err)

	// Age the stale session past the cutoff.
	session, err := store.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	session.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.UpdateSession(ctx, session))

	janitor := NewJanitor(reg, 10*time.Minute, arbor.NewLogger())
	janitor.Sweep()

	swept, err := reg.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatus(models.ErrorWorkerTimeout), swept.Status)

	kept, err := reg.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, kept.Status)
}

func TestAppend_ResubmissionSupersedes(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	for _, steps := range [][]string{
		{models.EventQueued, models.EventStarted, models.EventOtpRequired},
	} {
		for _, step := range steps {
			_, err = reg.Append(ctx, session.ID, step, nil)
			require.NoError(t, err)
		}
	}

	// The OTP answer restarts the flow as a fresh job on the same session.
	_, err = reg.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)

	current, err := reg.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, current.Status)
}

func TestMemoryStore_EventDataIsVerbatim(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	session, err := reg.CreateSession(ctx, "", "")
	require.NoError(t, err)

	payload := json.RawMessage(fmt.Sprintf(`{"ts":%q}`, time.Now().Format(time.RFC3339Nano)))
	event, err := reg.Append(ctx, session.ID, models.EventQueued, payload)
	require.NoError(t, err)
	assert.Equal(t, payload, event.Data)
}
