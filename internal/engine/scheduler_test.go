package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/flowmux/internal/codec"
	"github.com/jmylchreest/flowmux/internal/queue"
)

// source emits count values across one or more edges, fanning out to all of
// them. Closed edges are dropped; all edges closed terminates the source.
type source struct {
	*BaseStage
	outs []*queue.Queue[int]
	open []bool
	next int
	count int
}

func newSource(id string, count int, outs ...*queue.Queue[int]) *source {
	open := make([]bool, len(outs))
	for i := range open {
		open[i] = true
	}
	return &source{
		BaseStage: NewBaseStage(id, KindDemux, -1, nil),
		outs:      outs,
		open:      open,
		count:     count,
	}
}

func (s *source) Step(ctx context.Context) (StepStatus, error) {
	if s.next >= s.count {
		for i, out := range s.outs {
			if s.open[i] {
				out.Finish()
			}
		}
		return StepEndOfStream, nil
	}
	// All open edges must have space before the value is fanned out, so no
	// edge ever sees it twice.
	anyOpen := false
	for i, out := range s.outs {
		if !s.open[i] {
			continue
		}
		if out.Closed() {
			s.open[i] = false
			continue
		}
		anyOpen = true
		if out.Len() >= out.Cap() {
			s.SetReady(out.WaitSendable)
			return StepWouldBlock, nil
		}
	}
	if !anyOpen {
		return StepWouldBlock, ErrDownstreamClosed
	}
	for i, out := range s.outs {
		if !s.open[i] {
			continue
		}
		if ok, err := out.TrySend(s.next); err != nil || !ok {
			s.open[i] = false
		}
	}
	s.next++
	s.CountOut()
	return StepProduced, nil
}

func (s *source) Flush() error { return nil }
func (s *source) Close() error { return nil }
func (s *source) CloseInputs() {}
func (s *source) CloseOutputs() {
	for _, out := range s.outs {
		out.Close()
	}
}

// relay copies values from one edge to another, optionally failing fatally
// or transiently along the way.
type relay struct {
	*BaseStage
	in, out *queue.Queue[int]

	failAt      int // fail fatally on the nth unit, -1 = never
	transientAt int // report one transient error on the nth unit, -1 = never
	seen        int
}

func newRelay(id string, in, out *queue.Queue[int]) *relay {
	return &relay{
		BaseStage:   NewBaseStage(id, KindEncode, 0, nil),
		in:          in,
		out:         out,
		failAt:      -1,
		transientAt: -1,
	}
}

func (r *relay) Step(ctx context.Context) (StepStatus, error) {
	// Hold off on consuming input while the output has no space; the input
	// queue has no un-receive.
	if !r.out.Closed() && r.out.Len() >= r.out.Cap() {
		r.SetReady(r.out.WaitSendable)
		return StepWouldBlock, nil
	}
	v, ok, err := r.in.TryReceive()
	switch {
	case errors.Is(err, queue.ErrEndOfStream):
		r.out.Finish()
		return StepEndOfStream, nil
	case errors.Is(err, queue.ErrClosed):
		return StepWouldBlock, ErrUpstreamClosed
	case err != nil:
		return StepWouldBlock, err
	case !ok:
		r.SetReady(r.in.WaitReceivable)
		return StepWouldBlock, nil
	}
	r.CountIn()
	r.seen++
	if r.failAt >= 0 && r.seen > r.failAt {
		return StepWouldBlock, errors.New("synthetic stage failure")
	}
	if r.transientAt >= 0 && r.seen == r.transientAt {
		r.transientAt = -1
		return StepWouldBlock, codec.Transient(errors.New("synthetic hiccup"))
	}
	sent, err := r.out.TrySend(v)
	if err != nil {
		return StepWouldBlock, ErrDownstreamClosed
	}
	if !sent {
		return StepWouldBlock, errors.New("relay output full")
	}
	r.CountOut()
	return StepProduced, nil
}

func (r *relay) Flush() error  { return nil }
func (r *relay) Close() error  { return nil }
func (r *relay) CloseInputs()  { r.in.Close() }
func (r *relay) CloseOutputs() { r.out.Close() }

// sink collects values until end of stream.
type sink struct {
	*BaseStage
	in  *queue.Queue[int]
	got []int
}

func newSink(id string, in *queue.Queue[int]) *sink {
	return &sink{BaseStage: NewBaseStage(id, KindMux, -1, nil), in: in}
}

func (s *sink) Step(ctx context.Context) (StepStatus, error) {
	v, ok, err := s.in.TryReceive()
	switch {
	case errors.Is(err, queue.ErrEndOfStream):
		return StepEndOfStream, nil
	case errors.Is(err, queue.ErrClosed):
		return StepWouldBlock, ErrUpstreamClosed
	case err != nil:
		return StepWouldBlock, err
	case !ok:
		s.SetReady(s.in.WaitReceivable)
		return StepWouldBlock, nil
	}
	s.CountIn()
	s.got = append(s.got, v)
	return StepProduced, nil
}

func (s *sink) Flush() error  { return nil }
func (s *sink) Close() error  { return nil }
func (s *sink) CloseInputs()  { s.in.Close() }
func (s *sink) CloseOutputs() {}

func runGraph(t *testing.T, cfg Config, g *Graph) *Result {
	t.Helper()
	sched, err := New(cfg, g, nil)
	require.NoError(t, err)
	result, err := sched.Run(context.Background())
	require.NoError(t, err)
	return result
}

func TestSingleOutputSuccess(t *testing.T) {
	for _, contexts := range []int{0, 1, 2} {
		g := NewGraph()
		e0 := queue.New[int](4)
		e1 := queue.New[int](4)
		src := newSource("src", 100, e0)
		rel := newRelay("relay", e0, e1)
		snk := newSink("mux", e1)
		require.NoError(t, g.AddStage(src))
		require.NoError(t, g.AddStage(rel))
		require.NoError(t, g.AddStage(snk))
		g.AddEdge("e0", "src", []string{"relay"}, e0)
		g.AddEdge("e1", "relay", []string{"mux"}, e1)

		result := runGraph(t, Config{ExecutionContexts: contexts, QueueCapacity: 4}, g)

		assert.Equal(t, StatusSuccess, result.Status)
		assert.NoError(t, result.Err)
		assert.NotEmpty(t, result.RunID)
		require.Len(t, snk.got, 100)
		for i, v := range snk.got {
			require.Equal(t, i, v)
		}
		for id, rep := range result.Stages {
			assert.Equal(t, StateFinished, rep.State, id)
			assert.False(t, rep.Abnormal, id)
		}
		assert.Equal(t, int64(100), result.Stages["relay"].Stats.UnitsIn)
		assert.Equal(t, int64(100), result.Stages["mux"].Stats.UnitsIn)
	}
}

func TestPartialFailureKeepsSiblingOutput(t *testing.T) {
	g := NewGraph()
	eA0, eA1 := queue.New[int](8), queue.New[int](8)
	eB0, eB1 := queue.New[int](8), queue.New[int](8)

	src := newSource("src", 50, eA0, eB0)
	relA := newRelay("relay-a", eA0, eA1)
	relB := newRelay("relay-b", eB0, eB1)
	relB.failAt = 10
	snkA := newSink("mux-a", eA1)
	snkB := newSink("mux-b", eB1)

	for _, st := range []Stage{src, relA, relB, snkA, snkB} {
		require.NoError(t, g.AddStage(st))
	}
	g.AddEdge("eA0", "src", []string{"relay-a"}, eA0)
	g.AddEdge("eB0", "src", []string{"relay-b"}, eB0)
	g.AddEdge("eA1", "relay-a", []string{"mux-a"}, eA1)
	g.AddEdge("eB1", "relay-b", []string{"mux-b"}, eB1)

	result := runGraph(t, Config{QueueCapacity: 8}, g)

	assert.Equal(t, StatusPartial, result.Status)

	// The failing path is identified precisely.
	var fatal *FatalStageError
	require.ErrorAs(t, result.Err, &fatal)
	assert.Equal(t, "relay-b", fatal.StageID)
	assert.Equal(t, KindEncode, fatal.Kind)

	// The healthy output delivered the complete sequence.
	assert.Equal(t, StateFinished, result.Stages["mux-a"].State)
	assert.False(t, result.Stages["mux-a"].Abnormal)
	require.Len(t, snkA.got, 50)
	for i, v := range snkA.got {
		require.Equal(t, i, v)
	}

	// The failed path terminated without poisoning its sibling.
	assert.Equal(t, StateFailed, result.Stages["relay-b"].State)
	assert.True(t, result.Stages["mux-b"].Abnormal)
}

func TestAllOutputsFailed(t *testing.T) {
	g := NewGraph()
	e0, e1 := queue.New[int](4), queue.New[int](4)
	src := newSource("src", 50, e0)
	rel := newRelay("relay", e0, e1)
	rel.failAt = 5
	snk := newSink("mux", e1)
	require.NoError(t, g.AddStage(src))
	require.NoError(t, g.AddStage(rel))
	require.NoError(t, g.AddStage(snk))
	g.AddEdge("e0", "src", []string{"relay"}, e0)
	g.AddEdge("e1", "relay", []string{"mux"}, e1)

	result := runGraph(t, Config{QueueCapacity: 4}, g)

	assert.Equal(t, StatusFailed, result.Status)
	var fatal *FatalStageError
	require.ErrorAs(t, result.Err, &fatal)
	assert.Equal(t, "relay", fatal.StageID)
}

func TestTransientErrorsAreAbsorbed(t *testing.T) {
	g := NewGraph()
	e0, e1 := queue.New[int](4), queue.New[int](4)
	src := newSource("src", 20, e0)
	rel := newRelay("relay", e0, e1)
	rel.transientAt = 5
	snk := newSink("mux", e1)
	require.NoError(t, g.AddStage(src))
	require.NoError(t, g.AddStage(rel))
	require.NoError(t, g.AddStage(snk))
	g.AddEdge("e0", "src", []string{"relay"}, e0)
	g.AddEdge("e1", "relay", []string{"mux"}, e1)

	result := runGraph(t, Config{QueueCapacity: 4}, g)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, int64(1), result.Stages["relay"].Stats.TransientSkips)
	// The unit that hit the transient error was consumed and skipped.
	assert.Len(t, snk.got, 19)
}

func TestRequestStopCancelsRun(t *testing.T) {
	g := NewGraph()
	e0 := queue.New[int](2)
	src := newSource("src", 1<<30, e0)
	snk := newSink("mux", e0)
	require.NoError(t, g.AddStage(src))
	require.NoError(t, g.AddStage(snk))
	g.AddEdge("e0", "src", []string{"mux"}, e0)

	sched, err := New(Config{QueueCapacity: 2}, g, nil)
	require.NoError(t, err)

	results := make(chan *Result, 1)
	go func() {
		result, rerr := sched.Run(context.Background())
		require.NoError(t, rerr)
		results <- result
	}()

	time.Sleep(20 * time.Millisecond)
	sched.RequestStop()

	select {
	case result := <-results:
		assert.Equal(t, StatusCancelled, result.Status)
		assert.NoError(t, result.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	// RequestStop is idempotent after completion.
	sched.RequestStop()
}

func TestRequestStopRacesRunStart(t *testing.T) {
	g := NewGraph()
	e0 := queue.New[int](2)
	src := newSource("src", 1<<30, e0)
	snk := newSink("mux", e0)
	require.NoError(t, g.AddStage(src))
	require.NoError(t, g.AddStage(snk))
	g.AddEdge("e0", "src", []string{"mux"}, e0)

	sched, err := New(Config{QueueCapacity: 2}, g, nil)
	require.NoError(t, err)

	results := make(chan *Result, 1)
	go func() {
		result, rerr := sched.Run(context.Background())
		require.NoError(t, rerr)
		results <- result
	}()

	// No delay: the stop request lands while Run is still setting up.
	sched.RequestStop()

	select {
	case result := <-results:
		assert.Equal(t, StatusCancelled, result.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestContextCancellationIsCancelledNotFailed(t *testing.T) {
	g := NewGraph()
	e0 := queue.New[int](2)
	src := newSource("src", 1<<30, e0)
	snk := newSink("mux", e0)
	require.NoError(t, g.AddStage(src))
	require.NoError(t, g.AddStage(snk))
	g.AddEdge("e0", "src", []string{"mux"}, e0)

	sched, err := New(Config{QueueCapacity: 2}, g, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := sched.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
	assert.NoError(t, result.Err)
}

func TestConcurrentRunRejected(t *testing.T) {
	g := NewGraph()
	e0 := queue.New[int](2)
	src := newSource("src", 1<<30, e0)
	snk := newSink("mux", e0)
	require.NoError(t, g.AddStage(src))
	require.NoError(t, g.AddStage(snk))
	g.AddEdge("e0", "src", []string{"mux"}, e0)

	sched, err := New(Config{QueueCapacity: 2}, g, nil)
	require.NoError(t, err)

	go func() {
		_, _ = sched.Run(context.Background())
	}()
	time.Sleep(10 * time.Millisecond)

	_, err = sched.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	sched.RequestStop()
}

func TestStructuralErrorRejectsGraphBeforeRun(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddStage(newSource("src", 1, queue.New[int](1))))
	// Source reaches no mux stage.
	_, err := New(Config{}, g, nil)
	var serr *StructuralError
	require.ErrorAs(t, err, &serr)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.Greater(t, cfg.QueueCapacity, 0)
	assert.Greater(t, cfg.LookaheadWindow, 0)
}
