// Package executor implements the Parallel Executor: bounded,
// priority-ordered, rate-limited execution of tasks with retry and
// cooperative pause/resume/cancel.
package executor

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hyperengineering/synccore/internal/model"
	"github.com/hyperengineering/synccore/internal/ratelimit"
)

// Fn is the work performed by a Task. It must observe ctx cancellation.
type Fn func(ctx context.Context) (interface{}, error)

// Task is one unit of work submitted to the Executor.
type Task struct {
	ID       string
	Priority model.Priority
	Run      Fn
}

// Result is the outcome of one Task after all retries are exhausted.
type Result struct {
	ID       string
	Value    interface{}
	Err      error
	Success  bool
	Attempts int
}

// Config controls executor behavior.
type Config struct {
	Concurrency int
	TaskTimeout time.Duration // 0 disables
	MaxRetries  int
	RetryDelay  time.Duration
	Backoff     float64
	HighWater   int // Submit blocks once pending reaches this count
	LowWater    int // Submit unblocks once pending falls to this count
}

// Progress is emitted after every state change.
type Progress struct {
	Total      int
	Completed  int
	Failed     int
	Running    int
	Pending    int
	Percentage float64
	CurrentIDs []string
	ETA        *time.Duration
}

// Listener receives Progress updates. It must not block.
type Listener func(Progress)

type queuedTask struct {
	task     Task
	attempts int
}

// Executor runs tasks under bounded concurrency, priority ordering, rate
// limiting, timeout, and retry-with-backoff.
type Executor struct {
	cfg     Config
	limiter ratelimit.Limiter

	high, normal, low chan queuedTask
	sem               *semaphore.Weighted

	mu               sync.Mutex
	paused           bool
	cancelled        bool
	running          map[string]bool
	total            int
	completed        int
	failed           int
	pendingCnt       int
	blockedHighWater bool
	drainCond        *sync.Cond
	durations        *list.List // trailing task durations, for ETA

	listenersMu sync.Mutex
	listeners   []Listener

	resultsMu sync.Mutex
	results   map[string]Result

	notEmpty chan struct{}
	drained  sync.WaitGroup
}

// New creates an Executor. limiter may be nil to disable rate limiting.
func New(cfg Config, limiter ratelimit.Limiter) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	capacity := cfg.HighWater
	if capacity <= 0 {
		capacity = 10000
	}

	e := &Executor{
		cfg:       cfg,
		limiter:   limiter,
		high:      make(chan queuedTask, capacity),
		normal:    make(chan queuedTask, capacity),
		low:       make(chan queuedTask, capacity),
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		running:   make(map[string]bool),
		durations: list.New(),
		results:   make(map[string]Result),
		notEmpty:  make(chan struct{}, 1),
	}
	e.drainCond = sync.NewCond(&e.mu)
	return e
}

// OnProgress registers a listener invoked after every state change.
func (e *Executor) OnProgress(l Listener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Submit enqueues a task at its assigned priority tier. It blocks if the
// pending count has reached HighWater, until it drains to LowWater.
func (e *Executor) Submit(ctx context.Context, task Task) error {
	if err := e.waitForDrain(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.total++
	e.pendingCnt++
	if e.cfg.HighWater > 0 && e.pendingCnt >= e.cfg.HighWater {
		e.blockedHighWater = true
	}
	e.mu.Unlock()
	e.emitProgress()

	qt := queuedTask{task: task}
	target := e.channelFor(task.Priority)

	select {
	case target <- qt:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.signalNotEmpty()
	return nil
}

// waitForDrain blocks Submit once pending has reached HighWater, and keeps
// it blocked until pending drains back down to LowWater — the hysteresis
// that keeps change detection from immediately refilling the queue the
// instant a single task completes.
func (e *Executor) waitForDrain(ctx context.Context) error {
	if e.cfg.HighWater <= 0 {
		return nil
	}

	stop := context.AfterFunc(ctx, e.drainCond.Broadcast)
	defer stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for e.blockedHighWater {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.drainCond.Wait()
	}
	return ctx.Err()
}

// effectiveLowWater resolves LowWater to a usable threshold, defaulting to
// one below HighWater when unset or misconfigured.
func (e *Executor) effectiveLowWater() int {
	low := e.cfg.LowWater
	if low <= 0 || low >= e.cfg.HighWater {
		low = e.cfg.HighWater - 1
	}
	if low < 0 {
		low = 0
	}
	return low
}

func (e *Executor) channelFor(p model.Priority) chan queuedTask {
	switch p {
	case model.PriorityHigh:
		return e.high
	case model.PriorityLow:
		return e.low
	default:
		return e.normal
	}
}

func (e *Executor) signalNotEmpty() {
	select {
	case e.notEmpty <- struct{}{}:
	default:
	}
}

// dequeue pulls the next task in strict priority order: high, then normal,
// then low. Returns ok=false if nothing is available right now.
func (e *Executor) dequeue() (queuedTask, bool) {
	select {
	case qt := <-e.high:
		return qt, true
	default:
	}
	select {
	case qt := <-e.normal:
		return qt, true
	default:
	}
	select {
	case qt := <-e.low:
		return qt, true
	default:
	}
	return queuedTask{}, false
}

// Run starts cfg.Concurrency workers and blocks until ctx is cancelled or
// Cancel is called. Use this form for long-lived executors (the Sync Engine
// submits work across the lifetime of a session).
func (e *Executor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < e.cfg.Concurrency; i++ {
		g.Go(func() error {
			return e.workerLoop(gctx)
		})
	}

	return g.Wait()
}

// Start launches cfg.Concurrency workers in the background and returns a
// stop function. Use this form together with WaitIdle for one-shot batches
// (the convenience forms in convenience.go).
func (e *Executor) Start(ctx context.Context) (stop func(), done <-chan error) {
	runCtx, cancel := context.WithCancel(ctx)
	doneCh := make(chan error, 1)

	go func() {
		doneCh <- e.Run(runCtx)
	}()

	return cancel, doneCh
}

// WaitIdle blocks until every task submitted so far has a terminal result
// (no pending or running work remains), or ctx is cancelled.
func (e *Executor) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		e.mu.Lock()
		idle := e.completed+e.failed >= e.total && len(e.running) == 0
		e.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) workerLoop(ctx context.Context) error {
	for {
		if e.isCancelled() {
			return nil
		}
		if e.isPaused() {
			select {
			case <-time.After(20 * time.Millisecond):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		qt, ok := e.dequeue()
		if !ok {
			e.sem.Release(1)
			select {
			case <-e.notEmpty:
			case <-time.After(20 * time.Millisecond):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		e.runOne(ctx, qt)
		e.sem.Release(1)
	}
}

func (e *Executor) runOne(ctx context.Context, qt queuedTask) {
	e.mu.Lock()
	e.running[qt.task.ID] = true
	e.mu.Unlock()
	e.emitProgress()

	start := time.Now()

	taskCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, e.cfg.TaskTimeout)
	}

	if e.limiter != nil {
		if err := e.limiter.Acquire(taskCtx); err != nil {
			if cancel != nil {
				cancel()
			}
			e.finishFailed(qt, err, time.Since(start))
			return
		}
		defer e.limiter.Release()
	}

	value, err := qt.task.Run(taskCtx)
	if cancel != nil {
		cancel()
	}
	duration := time.Since(start)

	if err == nil {
		e.finishSucceeded(qt, value, duration)
		return
	}

	if qt.attempts < e.cfg.MaxRetries {
		e.requeueForRetry(qt, err)
		return
	}

	e.finishFailed(qt, err, duration)
}

func (e *Executor) requeueForRetry(qt queuedTask, cause error) {
	delay := e.backoffDelay(qt.attempts)
	qt.attempts++

	e.mu.Lock()
	delete(e.running, qt.task.ID)
	e.mu.Unlock()
	e.emitProgress()

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C
		e.high <- qt
		e.signalNotEmpty()
	}()
}

// backoffDelay computes retry_delay × backoff^attempts, capped
// via go-retry's WithCappedDuration so a misconfigured exponent cannot stall
// a worker indefinitely. The exponent itself is applied manually because
// go-retry's own Backoff.Next fixes the growth factor at 2, which would not
// honor an operator-configured Backoff value.
func (e *Executor) backoffDelay(attempts int) time.Duration {
	backoff := e.cfg.Backoff
	if backoff <= 0 {
		backoff = 2.0
	}
	base := e.cfg.RetryDelay
	if base <= 0 {
		base = time.Second
	}

	raw := time.Duration(float64(base) * math.Pow(backoff, float64(attempts)))
	capped := retry.WithCappedDuration(5*time.Minute, retry.NewConstant(raw))
	delay, _ := capped.Next()
	return delay
}

func (e *Executor) finishSucceeded(qt queuedTask, value interface{}, duration time.Duration) {
	e.mu.Lock()
	delete(e.running, qt.task.ID)
	e.completed++
	e.pendingCnt--
	e.recordDuration(duration)
	if e.blockedHighWater && e.pendingCnt <= e.effectiveLowWater() {
		e.blockedHighWater = false
		e.drainCond.Broadcast()
	}
	e.mu.Unlock()

	e.resultsMu.Lock()
	e.results[qt.task.ID] = Result{ID: qt.task.ID, Value: value, Success: true, Attempts: qt.attempts + 1}
	e.resultsMu.Unlock()

	e.emitProgress()
}

func (e *Executor) finishFailed(qt queuedTask, err error, duration time.Duration) {
	e.mu.Lock()
	delete(e.running, qt.task.ID)
	e.failed++
	e.pendingCnt--
	e.recordDuration(duration)
	if e.blockedHighWater && e.pendingCnt <= e.effectiveLowWater() {
		e.blockedHighWater = false
		e.drainCond.Broadcast()
	}
	e.mu.Unlock()

	e.resultsMu.Lock()
	e.results[qt.task.ID] = Result{ID: qt.task.ID, Err: err, Success: false, Attempts: qt.attempts + 1}
	e.resultsMu.Unlock()

	e.emitProgress()
}

func (e *Executor) recordDuration(d time.Duration) {
	e.durations.PushBack(d)
	if e.durations.Len() > 50 {
		e.durations.Remove(e.durations.Front())
	}
}

// Result returns the terminal result for a task id, if it has completed.
func (e *Executor) Result(id string) (Result, bool) {
	e.resultsMu.Lock()
	defer e.resultsMu.Unlock()
	r, ok := e.results[id]
	return r, ok
}

// Pause halts scheduling of new tasks; running tasks continue to completion.
func (e *Executor) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.emitProgress()
}

// Resume is idempotent.
func (e *Executor) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.emitProgress()
}

// Cancel sets the cooperative cancelled flag, which stops each worker
// before it takes another task, and drains the pending queue. It does not
// cancel the context of tasks already running: they observe cancellation
// only when the context given to Run or Start is cancelled.
func (e *Executor) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()

	drain := func(ch chan queuedTask) {
		for {
			select {
			case <-ch:
			default:
				return
			}
		}
	}
	drain(e.high)
	drain(e.normal)
	drain(e.low)

	e.emitProgress()
}

func (e *Executor) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Executor) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *Executor) emitProgress() {
	e.mu.Lock()
	total := e.total
	completed := e.completed
	failed := e.failed
	running := len(e.running)
	pending := e.pendingCnt - running
	if pending < 0 {
		pending = 0
	}

	currentIDs := make([]string, 0, len(e.running))
	for id := range e.running {
		currentIDs = append(currentIDs, id)
	}

	var eta *time.Duration
	if e.durations.Len() > 0 && pending > 0 {
		var sum time.Duration
		for elem := e.durations.Front(); elem != nil; elem = elem.Next() {
			sum += elem.Value.(time.Duration)
		}
		avg := sum / time.Duration(e.durations.Len())
		remaining := avg * time.Duration(pending) / time.Duration(maxInt(1, e.cfg.Concurrency))
		eta = &remaining
	}
	e.mu.Unlock()

	percentage := 0.0
	if total > 0 {
		percentage = float64(completed+failed) / float64(total) * 100
	}

	progress := Progress{
		Total:      total,
		Completed:  completed,
		Failed:     failed,
		Running:    running,
		Pending:    pending,
		Percentage: percentage,
		CurrentIDs: currentIDs,
		ETA:        eta,
	}

	e.listenersMu.Lock()
	listeners := append([]Listener(nil), e.listeners...)
	e.listenersMu.Unlock()

	for _, l := range listeners {
		l(progress)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
