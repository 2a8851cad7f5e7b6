package ocr

import (
	"errors"
	"regexp"
	"strings"

	"github.com/phil777/paperwork/pkg/evaluator"
	"github.com/phil777/paperwork/pkg/logging"
)

// ErrNoSpellChecker is returned by the spell_checker strategy when no
// checker is configured.
var ErrNoSpellChecker = errors.New("no spell checker configured")

// SpellChecker scores text by how many of its words are spelled correctly
// in lang.
type SpellChecker interface {
	Check(lang, text string) (score int, err error)
}

var wordPattern = regexp.MustCompile(`^[a-zA-Z]{4,}$`)

// LuckyGuess counts words made only of four or more ASCII letters.
func LuckyGuess(text string) (float64, error) {
	score := 0
	for _, word := range strings.Fields(text) {
		if wordPattern.MatchString(word) {
			score++
		}
	}
	return float64(score), nil
}

// NoScore gives every text the same score. It never fails.
func NoScore(string) (float64, error) {
	return 0, nil
}

// SpellCheck returns a scoring function backed by checker
func SpellCheck(checker SpellChecker, lang string) func(string) (float64, error) {
	return func(text string) (float64, error) {
		if checker == nil {
			return 0, ErrNoSpellChecker
		}
		score, err := checker.Check(lang, text)
		if err != nil {
			return 0, err
		}
		return float64(score), nil
	}
}

// Strategies lists the scoring strategies in preference order:
// spell_checker, lucky_guess, no_score.
func Strategies(checker SpellChecker, lang string) []evaluator.Strategy[string] {
	return []evaluator.Strategy[string]{
		{Name: "spell_checker", Score: SpellCheck(checker, lang)},
		{Name: "lucky_guess", Score: LuckyGuess},
		{Name: "no_score", Score: NoScore},
	}
}

// Scorer chains Strategies with evaluator.FirstSuccessful
func Scorer(logger *logging.Logger, checker SpellChecker, lang string) func(string) (float64, error) {
	return evaluator.FirstSuccessful(logger, Strategies(checker, lang)...)
}
