package evaluator

import (
	"errors"
	"fmt"
	"math"

	"github.com/phil777/paperwork/pkg/logging"
)

// ErrAllStrategiesFailed is returned by a FirstSuccessful scorer when no
// strategy could score its input.
var ErrAllStrategiesFailed = errors.New("all scoring strategies failed")

// Strategy is one way of scoring a result
type Strategy[T any] struct {
	Name  string
	Score func(T) (float64, error)
}

// StrategyError records the failure of a single strategy
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("scoring strategy %s: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// FirstSuccessful chains strategies in preference order. The returned scorer
// uses the first strategy that does not fail; each failure is logged and the
// next strategy is tried. If all fail it returns negative infinity and an
// error wrapping ErrAllStrategiesFailed and every StrategyError.
func FirstSuccessful[T any](logger *logging.Logger, strategies ...Strategy[T]) func(T) (float64, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	return func(input T) (float64, error) {
		var errs []error
		for _, s := range strategies {
			score, err := s.Score(input)
			if err == nil {
				logger.Debug("Scored", map[string]interface{}{
					"strategy": s.Name,
					"score":    score,
				})
				return score, nil
			}
			serr := &StrategyError{Strategy: s.Name, Err: err}
			logger.Warn("Scoring strategy failed", map[string]interface{}{
				"strategy": s.Name,
				"error":    err,
			})
			errs = append(errs, serr)
		}
		if len(errs) == 0 {
			return math.Inf(-1), ErrAllStrategiesFailed
		}
		return math.Inf(-1), fmt.Errorf("%w: %w", ErrAllStrategiesFailed, errors.Join(errs...))
	}
}
