// redis_queue.go
//
// Redis-backed mail queue. Jobs survive a process restart; the worker pops
// them with BLPOP and hands them to the inner Mailer. Recovery instructions
// never reach Redis: they go through an in-process Queue so clear recovery
// tokens are not persisted anywhere.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MGallo-Code/linkvault/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list used as the outbound mail queue.
const QueueKey = "linkvault:mail:queue"

// popTimeout bounds one BLPOP so the worker notices shutdown.
const popTimeout = 2 * time.Second

// RedisQueue enqueues jobs to a Redis list. Implements Mailer.
type RedisQueue struct {
	inner        Mailer
	rdb          *redis.Client
	maxQueueSize int64 // 0 = unlimited
	metrics      *metrics.Metrics
	now          func() time.Time

	// local carries recovery instructions.
	local *Queue

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisQueue wraps inner with a Redis-backed queue capped at maxSize
// jobs (0 = unlimited). m may be nil.
func NewRedisQueue(inner Mailer, rdb *redis.Client, maxSize int64, m *metrics.Metrics) *RedisQueue {
	return &RedisQueue{
		inner:        inner,
		rdb:          rdb,
		maxQueueSize: maxSize,
		metrics:      m,
		now:          time.Now,
		local:        NewQueue(inner, int(maxSize), m),
	}
}

// enqueueScript atomically checks the queue length and pushes the job only if
// under the cap. Returns 1 if enqueued, 0 if rejected (queue full).
// KEYS[1] = queue key, ARGV[1] = max size (0 = skip check), ARGV[2] = payload.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// enqueue serializes job to JSON and appends it to the Redis queue.
func (q *RedisQueue) enqueue(ctx context.Context, job EmailJob) error {
	job.EnqueuedAt = q.now()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling email job: %w", err)
	}
	ok, err := enqueueScript.Run(ctx, q.rdb, []string{QueueKey}, q.maxQueueSize, data).Int64()
	if err != nil {
		q.metrics.MailDropped(job.Type)
		return fmt.Errorf("enqueuing email job: %w", err)
	}
	if ok == 0 {
		q.metrics.MailDropped(job.Type)
		return ErrQueueFull
	}
	q.metrics.MailQueued(job.Type)
	return nil
}

// CheckHealth pings the Redis server behind the queue.
func (q *RedisQueue) CheckHealth(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Start runs StartWorker in the background until Shutdown, along with the
// in-process recovery queue.
func (q *RedisQueue) Start() {
	q.local.Start()
	q.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.StartWorker(ctx)
		}()
	})
}

// Shutdown stops the worker after its current job and flushes pending
// recovery instructions. Queued jobs stay in Redis for the next start.
// Returns ctx.Err() if either does not stop in time.
func (q *RedisQueue) Shutdown(ctx context.Context) error {
	if q.cancel != nil {
		q.cancel()
	}
	if err := q.local.Shutdown(ctx); err != nil {
		return err
	}
	stopped := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartWorker drains the mail queue in a loop, dispatching each job to inner.
// Blocks until ctx is cancelled.
func (q *RedisQueue) StartWorker(ctx context.Context) {
	for {
		// BLPop blocks up to popTimeout then returns redis.Nil -- keeps the
		// loop responsive to ctx cancellation without busy-spinning.
		res, err := q.rdb.BLPop(ctx, popTimeout, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			slog.Error("mail worker: queue pop failed", "err", err)
			// Back off so a Redis outage does not spin the loop.
			select {
			case <-time.After(popTimeout):
			case <-ctx.Done():
				return
			}
			continue
		}
		// res[0] = key name, res[1] = payload
		var job EmailJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			slog.Error("mail worker: bad job payload", "err", err)
			continue
		}
		deliver(q.inner, q.metrics, job, q.now())
	}
}

// SendEmailVerification enqueues an email verification job.
func (q *RedisQueue) SendEmailVerification(ctx context.Context, toEmail, token string) error {
	return q.enqueue(ctx, EmailJob{Type: jobEmailVerification, ToEmail: toEmail, Token: token})
}

// SendEmailChangedNotice enqueues an email changed notice.
func (q *RedisQueue) SendEmailChangedNotice(ctx context.Context, toEmail, newAddress string) error {
	return q.enqueue(ctx, EmailJob{Type: jobEmailChangedNotice, ToEmail: toEmail, NewAddress: newAddress})
}

// SendPasswordChangedNotice enqueues a password changed notice.
func (q *RedisQueue) SendPasswordChangedNotice(ctx context.Context, toEmail string) error {
	return q.enqueue(ctx, EmailJob{Type: jobPasswordChangeNotice, ToEmail: toEmail})
}

// SendRecoveryInstructions queues recovery instructions in process only.
func (q *RedisQueue) SendRecoveryInstructions(ctx context.Context, toEmail, recoveryID, token string) error {
	return q.local.SendRecoveryInstructions(ctx, toEmail, recoveryID, token)
}
