package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// Default scheduler configuration values.
const (
	DefaultQueueCapacity = 32
	DefaultLookahead     = 64

	// cooperativePollInterval bounds the latency of a cooperative worker
	// whose stages are all blocked.
	cooperativePollInterval = 200 * time.Microsecond
)

// Config externalizes the scheduling decisions that would otherwise be
// per-platform implicit state.
type Config struct {
	// QueueCapacity is the depth of every stage-to-stage queue.
	QueueCapacity int `mapstructure:"queue_capacity"`

	// ExecutionContexts is the number of workers driving stages. Zero or
	// negative means one worker per stage (full parallelism); one gives
	// the deterministic single-threaded cooperative mode.
	ExecutionContexts int `mapstructure:"execution_contexts"`

	// LookaheadWindow bounds how many packets one stream may buffer in a
	// sync queue ahead of the slowest stream.
	LookaheadWindow int `mapstructure:"lookahead_window"`
}

// WithDefaults fills unset fields with documented defaults.
func (c Config) WithDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.LookaheadWindow <= 0 {
		c.LookaheadWindow = DefaultLookahead
	}
	return c
}

// Status classifies the overall outcome of one run.
type Status string

// Run outcomes.
const (
	// StatusSuccess means every output stage finished normally.
	StatusSuccess Status = "success"
	// StatusPartial means at least one output finished normally while
	// another path failed.
	StatusPartial Status = "partial_failure"
	// StatusFailed means no output finished normally.
	StatusFailed Status = "failed"
	// StatusCancelled means the run was stopped cooperatively. Not a
	// failure.
	StatusCancelled Status = "cancelled"
)

// StageReport summarizes one stage's terminal condition.
type StageReport struct {
	Kind     StageKind  `json:"kind"`
	State    StageState `json:"state"`
	Abnormal bool       `json:"abnormal,omitempty"`
	Stats    StageStats `json:"stats"`
}

// Result is the outcome of driving a job graph to completion.
type Result struct {
	RunID    string                 `json:"run_id"`
	Status   Status                 `json:"status"`
	Err      error                  `json:"-"`
	Stages   map[string]StageReport `json:"stages"`
	Duration time.Duration          `json:"duration"`
}

// Scheduler owns a job graph's lifecycle end to end: it assigns stages to
// execution contexts, drives them until every stage reaches a terminal
// state, propagates failure and cancellation through the graph's edges, and
// reports the overall outcome.
type Scheduler struct {
	cfg   Config
	graph *Graph
	log   *slog.Logger

	mu    sync.Mutex
	fatal *FatalStageError

	running atomic.Bool
	stopReq atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates the graph and creates a scheduler for it. A structural
// error rejects the graph before any stage starts.
func New(cfg Config, graph *Graph, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:   cfg.WithDefaults(),
		graph: graph,
		log:   log.With(slog.String("component", "scheduler")),
	}, nil
}

// Run drives every stage to a terminal state and returns the overall
// result. It returns an error only for misuse (concurrent Run); pipeline
// failures are reported through Result.Status and Result.Err.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// cancel and done are published together so a concurrent RequestStop
	// observes a consistent pair.
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	defer func() {
		close(done)
		s.running.Store(false)
	}()
	if s.stopReq.Load() {
		cancel()
	}

	runID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	stages := s.graph.Stages()
	groups := s.partition(stages)

	s.log.InfoContext(ctx, "starting run",
		slog.String("run_id", runID),
		slog.String("graph", s.graph.describe()),
		slog.Int("execution_contexts", len(groups)),
		slog.Int("queue_capacity", s.cfg.QueueCapacity),
	)

	start := time.Now()
	var eg errgroup.Group
	for _, group := range groups {
		eg.Go(func() error {
			s.driveGroup(runCtx, group)
			return nil
		})
	}
	_ = eg.Wait()

	// Safety net: no edge survives the run.
	s.graph.CloseEdges()

	result := s.buildResult(runID, time.Since(start))
	s.log.InfoContext(ctx, "run finished",
		slog.String("run_id", runID),
		slog.String("status", string(result.Status)),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// RequestStop initiates cooperative shutdown and blocks until every stage
// has reached a terminal state. Safe to call at any time, from any
// goroutine, more than once.
func (s *Scheduler) RequestStop() {
	s.stopReq.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil && s.running.Load() {
		<-done
	}
}

// partition splits stages across the configured number of execution
// contexts, round-robin. The default is one context per stage.
func (s *Scheduler) partition(stages []Stage) [][]Stage {
	n := s.cfg.ExecutionContexts
	if n <= 0 || n > len(stages) {
		n = len(stages)
	}
	groups := make([][]Stage, n)
	for i, st := range stages {
		groups[i%n] = append(groups[i%n], st)
	}
	return groups
}

// driveGroup runs one execution context: it steps its stages until all are
// terminal. A single-stage group blocks efficiently on the stage's edges; a
// multi-stage group polls cooperatively.
func (s *Scheduler) driveGroup(ctx context.Context, stages []Stage) {
	for _, st := range stages {
		st.base().setState(StateRunning)
	}

	for {
		progress := false
		alive := 0
		for _, st := range stages {
			if st.State().Terminal() {
				continue
			}
			alive++
			if ctx.Err() != nil {
				s.terminate(st, true)
				progress = true
				continue
			}
			if s.stepStage(ctx, st) {
				progress = true
			}
		}
		if alive == 0 {
			return
		}
		if progress {
			continue
		}
		if ctx.Err() != nil {
			continue
		}
		if alive == 1 && len(stages) == 1 {
			if err := stages[0].WaitReady(ctx); err != nil {
				continue
			}
		} else {
			time.Sleep(cooperativePollInterval)
		}
	}
}

// stepStage performs one Step and handles its outcome. It reports whether
// the stage made progress.
func (s *Scheduler) stepStage(ctx context.Context, st Stage) bool {
	status, err := st.Step(ctx)
	if err != nil {
		switch {
		case IsTransient(err):
			st.base().CountTransient()
			st.base().Logger().Debug("transient error absorbed",
				slog.String("error", err.Error()))
			return true
		case isPropagated(err):
			st.base().Logger().Debug("terminating on propagated closure",
				slog.String("cause", err.Error()))
			s.terminate(st, true)
			return true
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.terminate(st, true)
			return true
		default:
			s.fail(st, err)
			return true
		}
	}
	switch status {
	case StepProduced:
		return true
	case StepEndOfStream:
		s.finish(st)
		return true
	default:
		return false
	}
}

// finish terminates a stage that drained normally. Its outputs were already
// finished by the stage itself, so only the inputs are abandoned.
func (s *Scheduler) finish(st Stage) {
	st.CloseInputs()
	if err := st.Close(); err != nil {
		st.base().Logger().Warn("stage close failed", slog.String("error", err.Error()))
	}
	st.base().setState(StateFinished)
}

// terminate shuts a stage down abnormally: propagated closure or
// cancellation. Both sides of the stage are abandoned so neighbours
// unblock, but no fatal error is recorded.
func (s *Scheduler) terminate(st Stage, abnormal bool) {
	st.CloseInputs()
	st.CloseOutputs()
	if err := st.Close(); err != nil {
		st.base().Logger().Warn("stage close failed", slog.String("error", err.Error()))
	}
	if abnormal {
		st.base().markAbnormal()
	}
	st.base().setState(StateFinished)
}

// fail records an originating fatal error and shuts the stage down. The
// closed edges cascade termination to every dependent stage; stages on
// independent output paths keep running.
func (s *Scheduler) fail(st Stage, err error) {
	fatal := &FatalStageError{
		StageID: st.ID(),
		Kind:    st.Kind(),
		Stream:  st.PrimaryStream(),
		Err:     err,
	}
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = fatal
	}
	s.mu.Unlock()

	st.base().Logger().Error("stage failed",
		slog.String("kind", string(st.Kind())),
		slog.String("error", err.Error()))

	st.CloseInputs()
	st.CloseOutputs()
	if cerr := st.Close(); cerr != nil {
		st.base().Logger().Warn("stage close failed", slog.String("error", cerr.Error()))
	}
	st.base().setState(StateFailed)
}

// buildResult derives the overall status from terminal stage conditions.
func (s *Scheduler) buildResult(runID string, elapsed time.Duration) *Result {
	s.mu.Lock()
	fatal := s.fatal
	s.mu.Unlock()

	reports := make(map[string]StageReport, len(s.graph.Stages()))
	cleanOutputs, totalOutputs := 0, 0
	for _, st := range s.graph.Stages() {
		reports[st.ID()] = StageReport{
			Kind:     st.Kind(),
			State:    st.State(),
			Abnormal: st.base().Abnormal(),
			Stats:    st.Stats(),
		}
		if st.Kind() == KindMux {
			totalOutputs++
			if st.State() == StateFinished && !st.base().Abnormal() {
				cleanOutputs++
			}
		}
	}

	result := &Result{
		RunID:    runID,
		Stages:   reports,
		Duration: elapsed,
	}
	switch {
	case fatal == nil && s.stopReq.Load():
		result.Status = StatusCancelled
		result.Err = nil
	case fatal == nil && cleanOutputs == totalOutputs:
		result.Status = StatusSuccess
	case fatal != nil && cleanOutputs > 0:
		result.Status = StatusPartial
		result.Err = fatal
	case fatal != nil:
		result.Status = StatusFailed
		result.Err = fatal
	default:
		// No recorded fatal but an output terminated abnormally: the
		// cause was an external context cancellation.
		result.Status = StatusCancelled
	}
	return result
}

// FirstError returns the first originating fatal error, if any.
func (s *Scheduler) FirstError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal == nil {
		return nil
	}
	return s.fatal
}
