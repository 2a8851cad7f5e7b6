package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/phil777/paperwork/internal/sim"
	"github.com/phil777/paperwork/pkg/ocr"
	"github.com/phil777/paperwork/pkg/workflow"
)

var (
	pageWidth    int
	pageHeight   int
	pageRotation int
	linesPerRead int
	readDelay    time.Duration
	engineDelay  time.Duration
	runTimeout   time.Duration
	dumpMetrics  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan and recognize one simulated page",
	Long: `Scans a simulated page, crops it to the calibrated area and runs OCR on
every orientation. The page can be fed sideways with --rotate to watch the
orientation detection at work.`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addPageFlags(runCmd)
	runCmd.Flags().IntVar(&linesPerRead, "lines-per-read", 64, "lines delivered by each scanner read")
	runCmd.Flags().DurationVar(&readDelay, "read-delay", 0, "simulated delay per scanner read")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", time.Minute, "give up after this long")
	runCmd.Flags().BoolVar(&dumpMetrics, "dump-metrics", false, "print scheduler metrics in Prometheus text format")
}

func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&pageWidth, "width", 850, "simulated page width in pixels")
	cmd.Flags().IntVar(&pageHeight, "height", 1100, "simulated page height in pixels")
	cmd.Flags().IntVar(&pageRotation, "rotate", 0, "feed the page rotated by this many degrees (multiple of 90)")
	cmd.Flags().DurationVar(&engineDelay, "engine-delay", 50*time.Millisecond, "simulated recognition time per orientation")
}

// simulatedPage returns the page as the scanner would see it
func simulatedPage() (image.Image, error) {
	return ocr.Rotate(sim.Page(pageWidth, pageHeight), pageRotation)
}

type outcome struct {
	scanned image.Image
	img     image.Image
	boxes   []ocr.LineBox
	err     error
}

// runObserver reports the end of a scan-and-OCR chain on done
type runObserver struct {
	workflow.NopObserver

	scanned image.Image
	done    chan outcome
}

func (o *runObserver) ScanDone(img image.Image) {
	if img == nil {
		o.done <- outcome{err: errors.New("scan canceled")}
		return
	}
	o.scanned = img
}

func (o *runObserver) ScanError(err error) { o.done <- outcome{err: err} }

func (o *runObserver) OCRDone(img image.Image, boxes []ocr.LineBox) {
	o.done <- outcome{scanned: o.scanned, img: img, boxes: boxes}
}

func (o *runObserver) OCRCanceled() { o.done <- outcome{err: errors.New("OCR canceled")} }

func (o *runObserver) OCRError(err error) { o.done <- outcome{err: err} }

func runPipeline(cmd *cobra.Command, args []string) error {
	page, err := simulatedPage()
	if err != nil {
		return err
	}

	obs := &runObserver{done: make(chan outcome, 4)}
	p := newPipeline(obs, &sim.Engine{Delay: engineDelay}, nil)
	if err := p.start(); err != nil {
		return err
	}
	defer p.stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	started := time.Now()
	src := sim.NewSource(page, linesPerRead, readDelay)
	if _, err := p.workflow.ScanAndOCR(cfg.Scan.Resolution, src); err != nil {
		return fmt.Errorf("failed to schedule scan: %w", err)
	}

	var res outcome
	select {
	case res = <-obs.done:
	case <-ctx.Done():
		n := p.workflow.Cancel()
		logger.Warn("Run interrupted", map[string]interface{}{"canceled_jobs": n, "reason": ctx.Err()})
		return ctx.Err()
	}
	if res.err != nil {
		return res.err
	}

	printResult(cmd, src.ID, res, time.Since(started))
	if dumpMetrics {
		// jobs record their outcome after the last notification
		p.stop()
		return writeMetrics(cmd, p)
	}
	return nil
}

func printResult(cmd *cobra.Command, session string, res outcome, elapsed time.Duration) {
	out := cmd.OutOrStdout()
	table := tablewriter.NewWriter(out)
	table.Header("#", "Text", "Position", "Words")
	for i, box := range res.boxes {
		table.Append(
			fmt.Sprintf("%d", i+1),
			box.Content,
			box.Position.String(),
			fmt.Sprintf("%d", len(box.Words)),
		)
	}
	table.Render()

	fmt.Fprintf(out, "\nSession:  %s\n", session)
	fmt.Fprintf(out, "Scanned:  %s\n", res.scanned.Bounds().Size())
	fmt.Fprintf(out, "Upright:  %s\n", res.img.Bounds().Size())
	fmt.Fprintf(out, "Elapsed:  %s\n", elapsed.Round(time.Millisecond))
}

func writeMetrics(cmd *cobra.Command, p *pipeline) error {
	families, err := p.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
