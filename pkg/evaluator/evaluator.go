// Package evaluator runs an evaluation function over a set of candidate
// variants with a fixed concurrency ceiling and keeps the best-scoring result.
//
// The join is poll based: the calling goroutine checks in-flight evaluations
// at a fixed interval, reports each completion through OnProgress, and tops
// the in-flight set up from the backlog. Progress therefore arrives as each
// variant completes, on the goroutine that called Run.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/phil777/paperwork/pkg/logging"
	"github.com/phil777/paperwork/pkg/sysinfo"
)

// DefaultPollInterval is how long Run waits between two scans of the
// in-flight evaluations.
const DefaultPollInterval = 100 * time.Millisecond

var (
	// ErrNoResult is returned when every candidate failed to evaluate.
	ErrNoResult = errors.New("no candidate produced a result")
	// ErrInvalidScore marks a candidate whose evaluation returned NaN.
	ErrInvalidScore = errors.New("score is not a number")
)

// Candidate is one variant of an input, identified by Tag (an angle, for
// orientation detection).
type Candidate[V any] struct {
	Tag   int
	Input V
}

// Outcome is the evaluation result of one candidate. Failed candidates carry
// Err and a score of negative infinity.
type Outcome[P any] struct {
	Tag     int
	Score   float64
	Payload P
	Err     error
	Elapsed time.Duration
}

// Func evaluates one variant and returns its payload and score. Higher
// scores are better.
type Func[V, P any] func(ctx context.Context, input V) (payload P, score float64, err error)

// Recorder receives evaluator measurements. *metrics.Metrics implements it.
type Recorder interface {
	InFlight(evaluator string, n int)
	Evaluated(evaluator string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) InFlight(string, int)   {}
func (nopRecorder) Evaluated(string, bool) {}

// Evaluator holds the settings of a bounded parallel evaluation. The zero
// value is usable.
type Evaluator[V, P any] struct {
	// Name labels logs and metrics.
	Name string
	// Concurrency bounds the number of evaluations in flight. Zero or less
	// means one per logical CPU core.
	Concurrency int
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// OnProgress is called once per completed candidate, in completion order.
	OnProgress func(Outcome[P])

	Logger   *logging.Logger
	Recorder Recorder
}

type pending[P any] struct {
	tag   int
	start time.Time
	done  chan Outcome[P]
}

func (e *Evaluator[V, P]) concurrency() int {
	if e.Concurrency > 0 {
		return e.Concurrency
	}
	return sysinfo.CPUCores()
}

func (e *Evaluator[V, P]) pollInterval() time.Duration {
	if e.PollInterval > 0 {
		return e.PollInterval
	}
	return DefaultPollInterval
}

func (e *Evaluator[V, P]) logger() *logging.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Nop()
}

func (e *Evaluator[V, P]) recorder() Recorder {
	if e.Recorder != nil {
		return e.Recorder
	}
	return nopRecorder{}
}

// Run evaluates every candidate with fn and returns the best outcome along
// with all outcomes in completion order. The best outcome is the one with the
// strictly highest score; among equal scores the first to complete wins.
//
// When ctx is canceled no further candidate is started, evaluations already
// in flight are waited for, and the context error is returned together with
// whatever was gathered. The context error is also returned when nothing
// succeeded after ctx was canceled. fn receives ctx and may return early on
// its own. A NaN score counts as a failure with ErrInvalidScore.
func (e *Evaluator[V, P]) Run(ctx context.Context, candidates []Candidate[V], fn Func[V, P]) (Outcome[P], []Outcome[P], error) {
	limit := e.concurrency()
	poll := e.pollInterval()
	log := e.logger()
	rec := e.recorder()

	backlog := append([]Candidate[V](nil), candidates...)
	inFlight := make([]*pending[P], 0, limit)
	all := make([]Outcome[P], 0, len(candidates))
	best := -1
	abandoned := 0

	log.Debug("Evaluating candidates", map[string]interface{}{
		"evaluator":   e.Name,
		"candidates":  len(candidates),
		"concurrency": limit,
	})

	for {
		still := inFlight[:0]
		for _, p := range inFlight {
			select {
			case o := <-p.done:
				o.Elapsed = time.Since(p.start)
				if o.Err == nil && math.IsNaN(o.Score) {
					o.Err = ErrInvalidScore
				}
				if o.Err != nil {
					o.Score = math.Inf(-1)
					log.Warn("Candidate evaluation failed", map[string]interface{}{
						"evaluator": e.Name,
						"tag":       o.Tag,
						"error":     o.Err,
					})
				} else if best < 0 || o.Score > all[best].Score {
					best = len(all)
				}
				rec.Evaluated(e.Name, o.Err == nil)
				all = append(all, o)
				if e.OnProgress != nil {
					e.OnProgress(o)
				}
			default:
				still = append(still, p)
			}
		}
		inFlight = still

		if ctx.Err() != nil && len(backlog) > 0 {
			abandoned += len(backlog)
			backlog = nil
		}
		for len(inFlight) < limit && len(backlog) > 0 {
			c := backlog[0]
			backlog = backlog[1:]
			inFlight = append(inFlight, start(ctx, c, fn))
		}
		rec.InFlight(e.Name, len(inFlight))

		if len(inFlight) == 0 && len(backlog) == 0 {
			break
		}

		if ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-time.After(poll):
			}
		} else {
			time.Sleep(poll)
		}
	}

	var winner Outcome[P]
	if best >= 0 {
		winner = all[best]
	}
	// a canceled run with no success reports the cancellation, even when the
	// backlog was already empty and every in-flight evaluation gave up
	if abandoned > 0 || (best < 0 && ctx.Err() != nil) {
		log.Info("Evaluation canceled", map[string]interface{}{
			"evaluator": e.Name,
			"completed": len(all),
			"abandoned": abandoned,
		})
		return winner, all, fmt.Errorf("evaluator %s: %w", e.Name, ctx.Err())
	}
	if best < 0 {
		return winner, all, fmt.Errorf("evaluator %s: %w", e.Name, ErrNoResult)
	}
	log.Debug("Best candidate", map[string]interface{}{
		"evaluator": e.Name,
		"tag":       winner.Tag,
		"score":     winner.Score,
	})
	return winner, all, nil
}

func start[V, P any](ctx context.Context, c Candidate[V], fn Func[V, P]) *pending[P] {
	p := &pending[P]{tag: c.Tag, start: time.Now(), done: make(chan Outcome[P], 1)}
	go func() {
		o := Outcome[P]{Tag: c.Tag}
		defer func() {
			if r := recover(); r != nil {
				o.Err = fmt.Errorf("evaluation panicked: %v", r)
			}
			p.done <- o
		}()
		o.Payload, o.Score, o.Err = fn(ctx, c.Input)
	}()
	return p
}
