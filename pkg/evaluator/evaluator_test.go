package evaluator

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil777/paperwork/pkg/metrics"
)

func angles(scores ...float64) []Candidate[float64] {
	out := make([]Candidate[float64], len(scores))
	for i, s := range scores {
		out[i] = Candidate[float64]{Tag: i * 90, Input: s}
	}
	return out
}

func TestRun_BoundedConcurrencyAndBest(t *testing.T) {
	var current, peak atomic.Int32
	fn := func(_ context.Context, score float64) (string, float64, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return "text", score, nil
	}

	e := &Evaluator[float64, string]{Concurrency: 2, PollInterval: time.Millisecond}
	best, all, err := e.Run(context.Background(), angles(3, 7, 2, 5), fn)

	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 90, best.Tag)
	assert.Equal(t, 7.0, best.Score)
}

func TestRun_FirstSeenWinsTies(t *testing.T) {
	fn := func(_ context.Context, delay float64) (int, float64, error) {
		time.Sleep(time.Duration(delay) * time.Millisecond)
		return 0, 1, nil
	}
	e := &Evaluator[float64, int]{Concurrency: 4, PollInterval: time.Millisecond}

	// every candidate scores 1; the 180° one finishes first
	best, _, err := e.Run(context.Background(), angles(40, 40, 0, 40), fn)
	require.NoError(t, err)
	assert.Equal(t, 180, best.Tag)
}

func TestRun_ProgressPerCandidate(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]float64{}
	e := &Evaluator[float64, string]{
		Concurrency:  3,
		PollInterval: time.Millisecond,
		OnProgress: func(o Outcome[string]) {
			mu.Lock()
			defer mu.Unlock()
			seen[o.Tag] = o.Score
		},
	}
	fn := func(_ context.Context, s float64) (string, float64, error) { return "", s, nil }

	_, _, err := e.Run(context.Background(), angles(1, 2, 3, 4), fn)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 1, 90: 2, 180: 3, 270: 4}, seen)
}

func TestRun_FailedCandidatesScoreLowest(t *testing.T) {
	fn := func(_ context.Context, s float64) (string, float64, error) {
		if s < 0 {
			return "", 0, errors.New("engine crashed")
		}
		if s == 0 {
			panic("segfault")
		}
		return "ok", s, nil
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := &Evaluator[float64, string]{
		Name:         "ocr",
		Concurrency:  2,
		PollInterval: time.Millisecond,
		Recorder:     m,
	}

	best, all, err := e.Run(context.Background(), angles(-1, 0, 0.5), fn)
	require.NoError(t, err)
	assert.Equal(t, 180, best.Tag)
	assert.Len(t, all, 3)

	failed := 0
	for _, o := range all {
		if o.Err != nil {
			failed++
			assert.True(t, math.IsInf(o.Score, -1))
		}
	}
	assert.Equal(t, 2, failed)

	count, err := testutil.GatherAndCount(reg, "paperwork_evaluator_candidates_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per result label")
}

func TestRun_AllFail(t *testing.T) {
	fn := func(context.Context, float64) (string, float64, error) { return "", 0, errors.New("nope") }
	e := &Evaluator[float64, string]{Concurrency: 2, PollInterval: time.Millisecond}

	_, all, err := e.Run(context.Background(), angles(1, 2), fn)
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Len(t, all, 2)

	_, _, err = e.Run(context.Background(), nil, fn)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestRun_CancelAbandonsBacklog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int32
	fn := func(_ context.Context, s float64) (string, float64, error) {
		if started.Add(1) == 1 {
			cancel()
		}
		time.Sleep(10 * time.Millisecond)
		return "", s, nil
	}
	e := &Evaluator[float64, string]{Concurrency: 1, PollInterval: time.Millisecond}

	best, all, err := e.Run(ctx, angles(5, 6, 7, 8), fn)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), started.Load())
	require.Len(t, all, 1, "the in-flight evaluation is drained")
	assert.Equal(t, 0, best.Tag)
}

func TestRun_CancelWithEverythingInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started sync.WaitGroup
	started.Add(4)
	fn := func(ctx context.Context, _ float64) (string, float64, error) {
		started.Done()
		<-ctx.Done()
		return "", 0, ctx.Err()
	}
	e := &Evaluator[float64, string]{Concurrency: 4, PollInterval: time.Millisecond}

	errCh := make(chan error, 1)
	go func() {
		_, all, err := e.Run(ctx, angles(1, 2, 3, 4), fn)
		assert.Len(t, all, 4)
		errCh <- err
	}()
	started.Wait()
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNoResult)
}

func TestRun_NaNScoreIsAFailure(t *testing.T) {
	fn := func(_ context.Context, s float64) (string, float64, error) {
		if s == 0 {
			return "", math.NaN(), nil
		}
		time.Sleep(5 * time.Millisecond)
		return "", s, nil
	}
	e := &Evaluator[float64, string]{Concurrency: 3, PollInterval: time.Millisecond}

	best, all, err := e.Run(context.Background(), angles(0, 7, 3), fn)
	require.NoError(t, err)
	assert.Equal(t, 90, best.Tag)
	assert.Equal(t, 7.0, best.Score)
	for _, o := range all {
		if o.Tag == 0 {
			assert.ErrorIs(t, o.Err, ErrInvalidScore)
			assert.True(t, math.IsInf(o.Score, -1))
		}
	}

	_, _, err = e.Run(context.Background(), angles(0), fn)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestRun_DefaultConcurrency(t *testing.T) {
	e := &Evaluator[int, int]{}
	assert.GreaterOrEqual(t, e.concurrency(), 1)
	assert.Equal(t, DefaultPollInterval, e.pollInterval())
}
