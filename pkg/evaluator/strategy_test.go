package evaluator

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstSuccessful(t *testing.T) {
	failing := Strategy[string]{Name: "spell_checker", Score: func(string) (float64, error) {
		return 0, errors.New("dictionary missing")
	}}
	length := Strategy[string]{Name: "length", Score: func(s string) (float64, error) {
		return float64(len(s)), nil
	}}
	zero := Strategy[string]{Name: "no_score", Score: func(string) (float64, error) {
		return 0, nil
	}}

	tests := []struct {
		name       string
		strategies []Strategy[string]
		want       float64
		wantErr    bool
	}{
		{"first succeeds", []Strategy[string]{length, zero}, 5, false},
		{"falls back", []Strategy[string]{failing, length, zero}, 5, false},
		{"last resort", []Strategy[string]{failing, zero}, 0, false},
		{"all fail", []Strategy[string]{failing, failing}, math.Inf(-1), true},
		{"no strategies", nil, math.Inf(-1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := FirstSuccessful(nil, tt.strategies...)("hello")
			assert.Equal(t, tt.want, score)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrAllStrategiesFailed)
		})
	}
}

func TestFirstSuccessful_KeepsStrategyErrors(t *testing.T) {
	cause := errors.New("aspell not installed")
	s := Strategy[int]{Name: "spell_checker", Score: func(int) (float64, error) { return 0, cause }}

	_, err := FirstSuccessful(nil, s)(1)

	var serr *StrategyError
	assert.ErrorAs(t, err, &serr)
	assert.Equal(t, "spell_checker", serr.Strategy)
	assert.ErrorIs(t, err, cause)
}
