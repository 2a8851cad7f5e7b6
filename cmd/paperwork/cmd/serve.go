package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/phil777/paperwork/internal/sim"
	"github.com/phil777/paperwork/pkg/api"
	"github.com/phil777/paperwork/pkg/auth"
	"github.com/phil777/paperwork/pkg/middleware"
	"github.com/phil777/paperwork/pkg/ocr"
	"github.com/phil777/paperwork/pkg/shutdown"
	tlsutil "github.com/phil777/paperwork/pkg/tls"
	"github.com/phil777/paperwork/pkg/tracing"
	"github.com/phil777/paperwork/pkg/workflow"
)

var (
	simulateEvery   time.Duration
	shutdownTimeout time.Duration
	serveEngineWait time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the schedulers and serve their status over HTTP",
	Long: `Starts the scan and OCR schedulers and an HTTP server exposing
/healthz, /metrics, /schedulers and job cancellation. With --simulate it
feeds a simulated page, in a new orientation each time, at a fixed interval.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&simulateEvery, "simulate", 0, "scan a simulated page at this interval (0 disables)")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for graceful shutdown")
	serveCmd.Flags().DurationVar(&serveEngineWait, "engine-delay", 200*time.Millisecond, "simulated recognition time per orientation")
}

// serveObserver logs workflow results
type serveObserver struct {
	workflow.NopObserver
}

func (serveObserver) ScanError(err error) {
	logger.Error("Scan failed", map[string]interface{}{"error": err})
}

func (serveObserver) OCRDone(img image.Image, boxes []ocr.LineBox) {
	fields := map[string]interface{}{"lines": len(boxes), "size": img.Bounds().Size().String()}
	if len(boxes) > 0 {
		fields["first_line"] = boxes[0].Content
	}
	logger.Info("Page recognized", fields)
}

func (serveObserver) OCRError(err error) {
	logger.Error("OCR failed", map[string]interface{}{"error": err})
}

func runServe(cmd *cobra.Command, args []string) error {
	tp, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		return err
	}

	p := newPipeline(serveObserver{}, &sim.Engine{Delay: serveEngineWait}, tp.Tracer())
	if err := p.start(); err != nil {
		return err
	}

	handler := api.NewHandler(p.registry, logger)
	if cfg.Server.APIKeyHash != "" {
		v, err := auth.NewVerifier(cfg.Server.APIKeyHash)
		if err != nil {
			p.stop()
			return err
		}
		handler.RequireKey(v)
	}
	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		handler.RateLimit(limiter)
	}
	handler.AddScheduler(p.scanScheduler)
	handler.AddScheduler(p.ocrScheduler)
	handler.AddFactory(p.workflow.ScanFactory.Factory)
	handler.AddFactory(p.workflow.OCRFactory.Factory)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	useTLS := cfg.Server.TLSCert != ""
	if useTLS {
		server.TLSConfig, err = tlsutil.LoadServerConfig(cfg.Server.TLSCert, cfg.Server.TLSKey, cfg.Server.TLSClientCA)
		if err != nil {
			p.stop()
			return err
		}
	}

	// steps run last registered first
	mgr := shutdown.New(shutdownTimeout, logger)
	mgr.Register("tracing", tp.Shutdown)
	mgr.Register("events", shutdown.Close(p.loop))
	mgr.Register("ocr-scheduler", shutdown.StopScheduler(p.ocrScheduler))
	mgr.Register("scan-scheduler", shutdown.StopScheduler(p.scanScheduler))
	mgr.Register("http", shutdown.StopHTTPServer(server))

	go func() {
		logger.Info("Listening", map[string]interface{}{"addr": server.Addr, "tls": useTLS})
		var err error
		if useTLS {
			// certificates come from TLSConfig
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", map[string]interface{}{"error": err})
			mgr.Trigger()
		}
	}()

	if simulateEvery > 0 {
		go simulate(mgr.Done(), p)
	}
	if limiter != nil {
		go forgetClients(mgr.Done(), limiter)
	}

	if err := mgr.Wait(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return mgr.Shutdown()
}

// simulate scans a page every simulateEvery, turning it a quarter each time
func simulate(done <-chan struct{}, p *pipeline) {
	ticker := time.NewTicker(simulateEvery)
	defer ticker.Stop()

	for n := 0; ; n++ {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		page, err := ocr.Rotate(sim.Page(850, 1100), 90*(n%4))
		if err != nil {
			logger.Error("Failed to prepare page", map[string]interface{}{"error": err})
			continue
		}
		src := sim.NewSource(page, 64, 5*time.Millisecond)
		if _, err := p.workflow.ScanAndOCR(cfg.Scan.Resolution, src); err != nil {
			logger.Error("Failed to schedule scan", map[string]interface{}{"error": fmt.Errorf("page %d: %w", n, err)})
		}
	}
}

func forgetClients(done <-chan struct{}, l *middleware.Limiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			l.Forget(5 * time.Minute)
		}
	}
}
