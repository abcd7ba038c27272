package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brandbridge/brandbridge/internal/pkg/metrics"
)

const (
	DefaultKeyPrefix   = "brandbridge:jobs"
	DefaultWorkers     = 3
	DefaultMaxAttempts = 4
	JobTTL             = 72 * time.Hour

	maxRetryDelay = 30 * time.Minute
	stuckAfter    = 10 * time.Minute
	pollTimeout   = 2 * time.Second
)

// Handler runs one job. A returned error fails the attempt.
type Handler func(ctx context.Context, job *Job) error

// Depth is the number of job ids in each list.
type Depth struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
}

type keys struct {
	prefix     string
	pending    string
	processing string
	delayed    string
	stats      string
}

func newKeys(prefix string) keys {
	return keys{
		prefix:     prefix,
		pending:    prefix + ":pending",
		processing: prefix + ":processing",
		delayed:    prefix + ":delayed",
		stats:      prefix + ":stats",
	}
}

func (k keys) job(id string) string {
	return k.prefix + ":job:" + id
}

// Queue is a Redis backed at-least-once job queue. Workers move ids from
// the pending list to the processing list, failed attempts wait in a
// sorted set scored by their next run time.
type Queue struct {
	client      *redis.Client
	keys        keys
	workers     int
	maxAttempts int
	retryBase   time.Duration
	tick        time.Duration
	now         func() time.Time

	handlerMu sync.RWMutex
	handlers  map[JobType]Handler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue creates a queue on client. workers <= 0 uses DefaultWorkers.
func NewQueue(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		client:      client,
		keys:        newKeys(DefaultKeyPrefix),
		workers:     workers,
		maxAttempts: DefaultMaxAttempts,
		retryBase:   30 * time.Second,
		tick:        time.Second,
		now:         time.Now,
		handlers:    make(map[JobType]Handler),
	}
}

// Register sets the handler for jobType.
func (q *Queue) Register(jobType JobType, h Handler) {
	q.handlerMu.Lock()
	defer q.handlerMu.Unlock()
	q.handlers[jobType] = h
}

func (q *Queue) handler(jobType JobType) (Handler, bool) {
	q.handlerMu.RLock()
	defer q.handlerMu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Start launches the workers and the maintenance loop.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.wg.Add(1)
	go q.maintain(ctx)
}

// Stop cancels polling and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	q.cancel()
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		job, err := q.dequeueJob(ctx, pollTimeout)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Worker %d: dequeue failed: %v", id, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}
		// Finish the attempt even when Stop was called meanwhile.
		q.processJob(context.WithoutCancel(ctx), job)
	}
}

func (q *Queue) maintain(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()
	lastSweep := q.now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := q.now()
			if _, err := q.promoteDue(ctx, now); err != nil && ctx.Err() == nil {
				log.Errorf("[JobQueue] Promoting delayed jobs failed: %v", err)
			}
			if now.Sub(lastSweep) < time.Minute {
				continue
			}
			lastSweep = now
			if _, err := q.recoverStuck(ctx, now, stuckAfter); err != nil && ctx.Err() == nil {
				log.Errorf("[JobQueue] Recovering stuck jobs failed: %v", err)
			}
			if d, err := q.Depth(ctx); err == nil {
				metrics.JobQueueDepth.WithLabelValues("pending").Set(float64(d.Pending))
				metrics.JobQueueDepth.WithLabelValues("processing").Set(float64(d.Processing))
				metrics.JobQueueDepth.WithLabelValues("delayed").Set(float64(d.Delayed))
			}
		}
	}
}

// EnqueueJob stores payload as a new job and makes it available to workers.
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload interface{}) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", jobType, err)
	}
	job := &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Status:      JobStatusPending,
		Payload:     raw,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   q.now(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.keys.job(job.ID), data, JobTTL)
	pipe.LPush(ctx, q.keys.pending, job.ID)
	pipe.HIncrBy(ctx, q.keys.stats, "enqueued", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	log.Debugf("[JobQueue] Enqueued job %s (%s)", job.ID, job.Type)
	return job, nil
}

// dequeueJob blocks up to timeout for the next id and moves it to the
// processing list. redis.Nil means nothing arrived.
func (q *Queue) dequeueJob(ctx context.Context, timeout time.Duration) (*Job, error) {
	id, err := q.client.BLMove(ctx, q.keys.pending, q.keys.processing, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		return nil, err
	}
	job, err := q.GetJob(ctx, id)
	if err != nil {
		q.client.LRem(ctx, q.keys.processing, 1, id)
		return nil, fmt.Errorf("job %s unreadable: %w", id, err)
	}
	return job, nil
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	now := q.now()
	job.Status = JobStatusProcessing
	job.Attempts++
	job.StartedAt = &now
	job.RunAt = nil
	q.save(ctx, q.client, job)

	var err error
	if h, ok := q.handler(job.Type); ok {
		err = h(ctx, job)
	} else {
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	outcome := "completed"
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.keys.processing, 1, job.ID)
	switch {
	case err == nil:
		pipe.Del(ctx, q.keys.job(job.ID))
		pipe.HIncrBy(ctx, q.keys.stats, "completed", 1)
	case job.CanRetry():
		outcome = "retried"
		runAt := now.Add(retryDelay(q.retryBase, job.Attempts))
		job.Status = JobStatusRetrying
		job.LastError = err.Error()
		job.RunAt = &runAt
		q.save(ctx, pipe, job)
		pipe.ZAdd(ctx, q.keys.delayed, redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
		log.Warnf("[JobQueue] Job %s (%s) attempt %d/%d failed, retry at %s: %v",
			job.ID, job.Type, job.Attempts, job.MaxAttempts, runAt.Format(time.RFC3339), err)
	default:
		outcome = "failed"
		job.Status = JobStatusFailed
		job.LastError = err.Error()
		q.save(ctx, pipe, job)
		pipe.HIncrBy(ctx, q.keys.stats, "failed", 1)
		log.Errorf("[JobQueue] Job %s (%s) failed permanently after %d attempts: %v", job.ID, job.Type, job.Attempts, err)
	}
	if _, perr := pipe.Exec(ctx); perr != nil {
		log.Errorf("[JobQueue] Recording outcome of job %s failed: %v", job.ID, perr)
	}
	metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), outcome).Inc()
}

func (q *Queue) save(ctx context.Context, c redis.Cmdable, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Encoding job %s failed: %v", job.ID, err)
		return
	}
	if err := c.Set(ctx, q.keys.job(job.ID), data, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Saving job %s failed: %v", job.ID, err)
	}
}

// promoteDue moves delayed jobs whose run time has passed back to pending.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.keys.delayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, id := range ids {
		// Only the process whose ZRem removed the id pushes it.
		removed, err := q.client.ZRem(ctx, q.keys.delayed, id).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.keys.pending, id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// recoverStuck requeues jobs that sat in the processing list longer than
// maxAge, which happens when a worker process dies mid-job.
func (q *Queue) recoverStuck(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, q.keys.processing, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Warnf("[JobQueue] Dropping unreadable job %s: %v", id, err)
			}
			q.client.LRem(ctx, q.keys.processing, 1, id)
			continue
		}
		started := job.CreatedAt
		if job.StartedAt != nil {
			started = *job.StartedAt
		}
		if now.Sub(started) <= maxAge {
			continue
		}

		log.Warnf("[JobQueue] Recovering job %s (%s) stuck for %s", job.ID, job.Type, now.Sub(started).Round(time.Second))
		job.Status = JobStatusPending
		job.LastError = "recovered after worker loss"
		pipe := q.client.TxPipeline()
		q.save(ctx, pipe, job)
		pipe.LRem(ctx, q.keys.processing, 1, id)
		pipe.RPush(ctx, q.keys.pending, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// GetJob loads a job. Completed and expired jobs return redis.Nil.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, q.keys.job(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Stats returns the enqueued, completed and failed counters.
func (q *Queue) Stats(ctx context.Context) (map[string]int64, error) {
	raw, err := q.client.HGetAll(ctx, q.keys.stats).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out, nil
}

// Depth reports the size of the pending, processing and delayed sets.
func (q *Queue) Depth(ctx context.Context) (*Depth, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.keys.pending)
	processing := pipe.LLen(ctx, q.keys.processing)
	delayed := pipe.ZCard(ctx, q.keys.delayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return &Depth{Pending: pending.Val(), Processing: processing.Val(), Delayed: delayed.Val()}, nil
}
