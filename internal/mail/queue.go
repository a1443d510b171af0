// queue.go
//
// Async outbound mail. Queue and RedisQueue both implement Mailer by turning
// each call into an EmailJob; a single background worker hands jobs to the
// inner Mailer (SMTPMailer). Enqueueing never blocks: a full queue drops the
// job and returns ErrQueueFull. Jobs carrying a token are dropped instead of
// sent once the token can no longer be redeemed.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MGallo-Code/linkvault/internal/account"
	"github.com/MGallo-Code/linkvault/internal/metrics"
)

// DefaultMaxQueueSize caps queued jobs so a dead SMTP server cannot grow
// memory without bound.
const DefaultMaxQueueSize = 1000

// sendTimeout bounds one delivery attempt by the worker.
const sendTimeout = 30 * time.Second

var (
	// ErrQueueFull is returned when the queue has reached its size cap.
	ErrQueueFull = errors.New("mail queue full")

	// ErrQueueClosed is returned after Shutdown has begun.
	ErrQueueClosed = errors.New("mail queue closed")
)

// job type constants identify which send method to invoke on dispatch.
const (
	jobEmailVerification    = "email_verification"
	jobEmailChangedNotice   = "email_changed_notice"
	jobPasswordChangeNotice = "password_changed_notice"
	jobRecoveryInstructions = "recovery_instructions"
)

// EmailJob is one queued send. It is also the JSON payload on the Redis queue.
type EmailJob struct {
	Type       string    `json:"type"`
	ToEmail    string    `json:"to_email"`
	Token      string    `json:"token,omitempty"`
	RecoveryID string    `json:"recovery_id,omitempty"`
	NewAddress string    `json:"new_address,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// tokenTTL is how long the token carried by a job of jobType stays
// redeemable. Zero for jobs without a token.
func tokenTTL(jobType string) time.Duration {
	switch jobType {
	case jobRecoveryInstructions:
		return account.RecoveryTTL
	case jobEmailVerification:
		return account.EmailVerificationTTL
	}
	return 0
}

// expired reports whether job carries a token that has lapsed at now. A
// token job without an enqueue time counts as expired.
func expired(job EmailJob, now time.Time) bool {
	ttl := tokenTTL(job.Type)
	if ttl == 0 {
		return false
	}
	return job.EnqueuedAt.IsZero() || now.Sub(job.EnqueuedAt) > ttl
}

// dispatch calls the inner Mailer method matching job.Type.
func dispatch(ctx context.Context, inner Mailer, job EmailJob) error {
	switch job.Type {
	case jobEmailVerification:
		return inner.SendEmailVerification(ctx, job.ToEmail, job.Token)
	case jobEmailChangedNotice:
		return inner.SendEmailChangedNotice(ctx, job.ToEmail, job.NewAddress)
	case jobPasswordChangeNotice:
		return inner.SendPasswordChangedNotice(ctx, job.ToEmail)
	case jobRecoveryInstructions:
		return inner.SendRecoveryInstructions(ctx, job.ToEmail, job.RecoveryID, job.Token)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// deliver runs one job with a bounded context. Errors are logged and counted,
// never retried.
func deliver(inner Mailer, m *metrics.Metrics, job EmailJob, now time.Time) {
	if expired(job, now) {
		m.MailDropped(job.Type)
		slog.Warn("mail worker: dropping expired job", "type", job.Type, "to", job.ToEmail, "enqueued_at", job.EnqueuedAt)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := dispatch(ctx, inner, job); err != nil {
		m.MailFailed(job.Type)
		slog.Error("mail worker: send failed", "type", job.Type, "to", job.ToEmail, "err", err)
		return
	}
	m.MailSent(job.Type)
}

// Queue is an in-process bounded mail queue with a single worker.
//
// Lifecycle: NewQueue, Start once, Shutdown once. Shutdown stops intake,
// delivers what is already queued and waits at most until its ctx is done.
type Queue struct {
	inner   Mailer
	metrics *metrics.Metrics
	now     func() time.Time

	jobs chan EmailJob
	done chan struct{}
	wg   sync.WaitGroup

	// mu orders enqueues against Shutdown: once closed is set under the
	// write lock, no send can land behind the worker's final drain.
	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
}

// NewQueue returns a Queue holding at most size jobs. size <= 0 uses
// DefaultMaxQueueSize. m may be nil.
func NewQueue(inner Mailer, size int, m *metrics.Metrics) *Queue {
	if size <= 0 {
		size = DefaultMaxQueueSize
	}
	return &Queue{
		inner:   inner,
		metrics: m,
		now:     time.Now,
		jobs:    make(chan EmailJob, size),
		done:    make(chan struct{}),
	}
}

// Start launches the worker. Later calls do nothing.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.run()
	})
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case job := <-q.jobs:
			deliver(q.inner, q.metrics, job, q.now())
		case <-q.done:
			// Flush whatever is already buffered, then stop.
			for {
				select {
				case job := <-q.jobs:
					deliver(q.inner, q.metrics, job, q.now())
				default:
					return
				}
			}
		}
	}
}

// Shutdown stops intake and waits for the worker to flush the queue.
// Returns ctx.Err() if the flush does not finish in time; the worker keeps
// draining in the background in that case.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()

	flushed := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(flushed)
	}()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of jobs waiting.
func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) enqueue(job EmailJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.metrics.MailDropped(job.Type)
		return ErrQueueClosed
	}
	job.EnqueuedAt = q.now()
	select {
	case q.jobs <- job:
		q.metrics.MailQueued(job.Type)
		return nil
	default:
		q.metrics.MailDropped(job.Type)
		return ErrQueueFull
	}
}

// SendEmailVerification enqueues an email verification job.
func (q *Queue) SendEmailVerification(_ context.Context, toEmail, token string) error {
	return q.enqueue(EmailJob{Type: jobEmailVerification, ToEmail: toEmail, Token: token})
}

// SendEmailChangedNotice enqueues an email changed notice.
func (q *Queue) SendEmailChangedNotice(_ context.Context, toEmail, newAddress string) error {
	return q.enqueue(EmailJob{Type: jobEmailChangedNotice, ToEmail: toEmail, NewAddress: newAddress})
}

// SendPasswordChangedNotice enqueues a password changed notice.
func (q *Queue) SendPasswordChangedNotice(_ context.Context, toEmail string) error {
	return q.enqueue(EmailJob{Type: jobPasswordChangeNotice, ToEmail: toEmail})
}

// SendRecoveryInstructions enqueues recovery instructions.
func (q *Queue) SendRecoveryInstructions(_ context.Context, toEmail, recoveryID, token string) error {
	return q.enqueue(EmailJob{Type: jobRecoveryInstructions, ToEmail: toEmail, RecoveryID: recoveryID, Token: token})
}
