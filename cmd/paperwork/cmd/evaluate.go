package cmd

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/phil777/paperwork/internal/sim"
	"github.com/phil777/paperwork/pkg/ocr"
)

var evalAngles int

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score every orientation of a simulated page",
	Long: `Runs orientation detection on a simulated page without scanning it and
prints the score of each orientation.`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	addPageFlags(evaluateCmd)
	evaluateCmd.Flags().IntVar(&evalAngles, "angles", 0, "orientations to try, 1 to 4 (default from ocr.angles)")
}

// scoreObserver collects per-orientation scores
type scoreObserver struct {
	ocr.NopObserver

	mu     sync.Mutex
	scores map[int]float64
	best   int
	boxes  []ocr.LineBox
	err    error
}

func (o *scoreObserver) OCRScore(angle int, score float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scores[angle] = score
}

func (o *scoreObserver) OCRDone(angle int, _ image.Image, boxes []ocr.LineBox) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.best, o.boxes = angle, boxes
}

func (o *scoreObserver) OCRFailed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	page, err := simulatedPage()
	if err != nil {
		return err
	}
	angles := evalAngles
	if angles == 0 {
		angles = cfg.OCR.Angles
	}

	obs := &scoreObserver{scores: map[int]float64{}, best: -1}
	w := cfg.Workflow()
	f := ocr.NewFactory(&sim.Engine{Delay: engineDelay}, w.OCR, obs, nil, ocr.WithLogger(logger))
	job, err := f.Make(page, angles)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		job.Stop()
	}()

	if err := job.Do(context.Background()); err != nil {
		return err
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()

	keys := make([]int, 0, len(obs.scores))
	for angle := range obs.scores {
		keys = append(keys, angle)
	}
	sort.Ints(keys)

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Angle", "Score", "Best")
	for _, angle := range keys {
		score := fmt.Sprintf("%.0f", obs.scores[angle])
		if math.IsInf(obs.scores[angle], -1) {
			score = "failed"
		}
		best := ""
		if angle == obs.best {
			best = "*"
		}
		table.Append(fmt.Sprintf("%d", angle), score, best)
	}
	table.Render()

	if obs.best >= 0 && len(obs.boxes) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "\nFirst line: %s\n", obs.boxes[0].Content)
	}
	return nil
}
