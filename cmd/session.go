// cmd/session.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/hrvmeter/internal/config"
	"github.com/ColonelBlimp/hrvmeter/internal/dsp"
	"github.com/ColonelBlimp/hrvmeter/internal/hrv"
	"github.com/ColonelBlimp/hrvmeter/internal/logging"
	"github.com/ColonelBlimp/hrvmeter/internal/session"
	"github.com/ColonelBlimp/hrvmeter/internal/sink"
	"github.com/ColonelBlimp/hrvmeter/internal/source"
)

// livePrinter prints live BPM updates to the console
type livePrinter struct {
	out io.Writer
}

func (p livePrinter) OnBPMUpdate(bpm int) {
	fmt.Fprintf(p.out, "BPM: %d\n", bpm)
}

func (p livePrinter) OnSessionComplete(hrv.Result) {}

// runSession wires the configured sinks around a runner and measures src.
// The realtime flag overrides realtime from the config file when set.
func runSession(cmd *cobra.Command, settings *config.Settings, src source.Source, realtime bool) error {
	logOpts := settings.LoggingOptions()
	logOpts.Output = cmd.ErrOrStderr()
	logger, logCloser, err := logging.Setup(logOpts)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spectrum, err := dsp.NewSpectrum(settings.SpectrumConfig())
	if err != nil {
		return fmt.Errorf("spectrum: %w", err)
	}

	cfg := session.Config{
		Processor: settings.ProcessorConfig(),
		Realtime:  realtime,
		Spectrum:  spectrum,
	}

	var sinks []hrv.Observer
	if settings.Live {
		sinks = append(sinks, livePrinter{out: cmd.OutOrStdout()})
	}

	if settings.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		if cfg.Metrics, err = session.NewMetrics(reg); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		server := serveMetrics(settings.MetricsAddr, reg, logger)
		defer shutdownMetrics(server, logger)
	}

	if settings.NATSURL != "" {
		nc, err := sink.Connect(settings.NATSURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("nats drain failed", slog.String("err", err.Error()))
			}
		}()
		natsSink, err := sink.NewNATSSink(nc, settings.NATSConfig(), logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, natsSink)
		logger.Info("publishing to nats", slog.String("url", settings.NATSURL))
	}

	if settings.TraceFile != "" {
		trace, err := sink.CreateTrace(settings.TraceFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := trace.Close(); err != nil {
				logger.Error("close trace", slog.String("err", err.Error()))
			}
		}()
		cfg.Recorder = trace
	}

	runner, err := session.NewRunner(cfg, logger, sinks...)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx, src)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(cmd.OutOrStdout(), "Session cancelled")
		return nil
	}
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.String("err", err.Error()))
		}
	}()
	return server
}

func shutdownMetrics(server *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("metrics shutdown", slog.String("err", err.Error()))
	}
}

func printSummary(w io.Writer, s session.Summary) {
	fmt.Fprintf(w, "Samples:        %d (%d dropped)\n", s.Samples, s.Dropped)
	if !s.Valid() {
		fmt.Fprintln(w, "Result:         not enough clean pulse intervals")
	} else {
		fmt.Fprintf(w, "Average HR:     %d bpm\n", s.AverageHR)
		fmt.Fprintf(w, "RMSSD:          %.2f ms\n", s.RMSSD)
	}
	if s.HasSpectralBPM {
		fmt.Fprintf(w, "Spectral peak:  %.1f bpm\n", s.SpectralBPM)
	}
	if s.DroppedUpdates > 0 {
		fmt.Fprintf(w, "Live updates:   %d not delivered\n", s.DroppedUpdates)
	}
}
