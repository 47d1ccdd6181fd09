// Package queue implements the durable job queue between intake and the
// worker pool: at-least-once delivery over Badger with visibility-timeout
// redelivery and a max-receive dead-letter bound.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/common"
	"github.com/ternarybob/credbridge/internal/models"
)

// queuedJob is the internal structure stored in Badger. The Body is the wire
// contract ({session_id, encrypted_credentials}); everything else is delivery
// bookkeeping local to this queue.
type queuedJob struct {
	ID           string     `json:"id"`
	Body         models.Job `json:"body"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	VisibleAt    time.Time  `json:"visible_at"`
	ReceiveCount int        `json:"receive_count"`
}

// DeadLetterFunc observes a delivery whose retries are exhausted, so intake
// can fail the session instead of letting it hang in "started" forever.
type DeadLetterFunc func(job models.Job, receiveCount int)

// Manager is a persistent queue over Badger. Messages live under a data key
// and a visibility-index key whose timestamp component gives ready messages
// lexicographic order; claiming a message moves its index key forward by the
// visibility timeout, which is what provides crash redelivery.
type Manager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	onDeadLetter      DeadLetterFunc
	logger            arbor.ILogger
}

// NewManager creates a queue manager on an open Badger database.
func NewManager(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &Manager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// OnDeadLetter registers the dead-letter hook. Must be set before Start.
func (m *Manager) OnDeadLetter(fn DeadLetterFunc) {
	m.onDeadLetter = fn
}

// Enqueue adds a job to the queue. It returns only after the Badger
// transaction commits, so a nil error means the job is durably accepted;
// any failure is returned to the caller, never swallowed.
func (m *Manager) Enqueue(ctx context.Context, job models.Job) error {
	now := time.Now()
	qJob := queuedJob{
		ID:         common.NewMessageID(),
		Body:       job,
		EnqueuedAt: now,
		VisibleAt:  now,
	}

	data, err := json.Marshal(qJob)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(qJob.ID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(qJob.VisibleAt, qJob.ID), []byte{})
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.logger.Debug().
		Str("message_id", qJob.ID).
		Str("session_id", job.SessionID).
		Msg("Job enqueued")

	return nil
}

// Receive claims the next visible job. The claim increments the receive
// count and pushes the visibility index forward, so a worker crash simply
// lets the job reappear after the visibility timeout. Messages that exceed
// max-receive are moved to the dead-letter prefix and reported through the
// hook. Returns models.ErrNoMessage when nothing is ready.
func (m *Manager) Receive(ctx context.Context) (*models.Job, func() error, error) {
	var claimed queuedJob
	var deadLettered []queuedJob
	var found bool

	// The closure must return nil even when nothing is deliverable: a
	// non-nil return would roll back any dead-letter moves made during
	// the scan. "Queue empty" is signalled through found instead.
	err := m.db.Update(func(txn *badger.Txn) error {
		deadLettered = nil
		found = false

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// Index keys sort by timestamp; nothing further is ready.
				break
			}

			item, err := txn.Get(m.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Stale index entry without data; clean it up.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var qJob queuedJob
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &qJob)
			}); err != nil {
				return err
			}

			if qJob.ReceiveCount >= m.maxReceive {
				// Poison message: park it under the dead-letter prefix and
				// keep scanning for a deliverable one.
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(m.msgKey(id)); err != nil {
					return err
				}
				data, err := json.Marshal(qJob)
				if err != nil {
					return err
				}
				if err := txn.Set(m.deadKey(id), data); err != nil {
					return err
				}
				deadLettered = append(deadLettered, qJob)
				continue
			}

			qJob.ReceiveCount++
			qJob.VisibleAt = now.Add(m.visibilityTimeout)

			data, err := json.Marshal(qJob)
			if err != nil {
				return err
			}
			if err := txn.Set(m.msgKey(id), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(m.indexKey(qJob.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			claimed = qJob
			found = true
			break
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	// The dead-letter moves are committed; only now is it safe to tell
	// intake about them.
	for _, dead := range deadLettered {
		m.logger.Warn().
			Str("message_id", dead.ID).
			Str("session_id", dead.Body.SessionID).
			Int("receive_count", dead.ReceiveCount).
			Msg("Job moved to dead-letter")
		if m.onDeadLetter != nil {
			m.onDeadLetter(dead.Body, dead.ReceiveCount)
		}
	}

	if !found {
		return nil, nil, models.ErrNoMessage
	}

	deleteFn := func() error {
		return m.delete(claimed.ID)
	}
	return &claimed.Body, deleteFn, nil
}

// delete removes a claimed message and its current index entry.
func (m *Manager) delete(id string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(m.msgKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // already deleted
			}
			return err
		}

		var qJob queuedJob
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &qJob)
		}); err != nil {
			return err
		}

		if err := txn.Delete(m.indexKey(qJob.VisibleAt, id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(m.msgKey(id))
	})
}

// Stats reports pending (visible) and in-flight message counts.
func (m *Manager) Stats(ctx context.Context) (pending, inFlight int, err error) {
	err = m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ts, _, err := m.parseIndexKey(it.Item().Key())
			if err != nil {
				continue
			}
			if ts.After(now) {
				inFlight++
			} else {
				pending++
			}
		}
		return nil
	})
	return pending, inFlight, err
}

func (m *Manager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *Manager) indexKey(visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *Manager) deadKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dead:%s", m.queueName, id))
}

func (m *Manager) parseIndexKey(key []byte) (time.Time, string, error) {
	parts := strings.SplitN(string(key), ":", 5)
	if len(parts) != 5 {
		return time.Time{}, "", fmt.Errorf("malformed index key: %s", key)
	}
	nanos, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed index timestamp: %w", err)
	}
	return time.Unix(0, nanos), parts[4], nil
}
