// Command snapshotdemo books a long run of slots on one resource and then
// compares a booking with snapshots against one that replays the full stream.
//
// Configuration comes from ESS_* environment variables, see internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcknight/ESSnapshots/core/es"
	"github.com/rcknight/ESSnapshots/domain/resource"
	"github.com/rcknight/ESSnapshots/internal/backend"
	"github.com/rcknight/ESSnapshots/internal/config"
	"github.com/rcknight/ESSnapshots/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	log, flush, err := logging.New(level, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer flush()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	b, err := backend.Open(cfg, log, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("close backend", slog.Any("error", err))
		}
	}()

	return demo(ctx, log, b, cfg.Demo.Bookings)
}

func demo(ctx context.Context, log *slog.Logger, b *backend.Backend, bookings int) error {
	handler := resource.NewCommandHandler(b.Log, time.Now, append(b.Options, es.WithSnapshots(true))...)

	resourceID := uuid.NewString()
	log = log.With(slog.String("resource_id", resourceID))
	if _, err := handler.HandleCreate(ctx, resource.CreateResource{ResourceID: resourceID, Name: "Meeting Room"}); err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	var (
		day     = time.Now()
		started = time.Now()
		last    *es.Result
	)
	for i := 0; i < bookings; i++ {
		if i%24 == 0 {
			day = day.AddDate(0, 0, 1)
		}
		res, err := handler.HandleBook(ctx, resource.BookResource{
			ResourceID: resourceID,
			ActivityID: uuid.NewString(),
			Date:       day,
			TimeSlot:   i % 24,
		})
		if err != nil && !errors.Is(err, es.ErrPostCommit) {
			return fmt.Errorf("booking %d: %w", i, err)
		}
		if err != nil {
			log.Warn("booking committed with follow-up failure", slog.Int("booking", i), slog.Any("error", err))
		}
		last = res
		if res.Snapshotted || (i+1)%1000 == 0 {
			log.Info(
				"progress",
				slog.Int("bookings", i+1),
				res.Version.SlogAttr(),
				slog.Bool("snapshotted", res.Snapshotted),
			)
		}
	}
	log.Info("bookings done", slog.Int("bookings", bookings), slog.Duration("took", time.Since(started)))

	final := resource.BookResource{
		ResourceID: resourceID,
		ActivityID: uuid.NewString(),
		Date:       day.AddDate(0, 0, 1),
	}

	withSnapshots, err := timeBooking(ctx, handler, final)
	if err != nil {
		return err
	}

	noSnapshots := resource.NewCommandHandler(b.Log, time.Now, append(b.Options, es.WithSnapshots(false))...)
	final.ActivityID, final.TimeSlot = uuid.NewString(), 1
	withoutSnapshots, err := timeBooking(ctx, noSnapshots, final)
	if err != nil {
		return err
	}

	attrs := []any{
		slog.Duration("with_snapshots", withSnapshots),
		slog.Duration("without_snapshots", withoutSnapshots),
	}
	if last != nil {
		attrs = append(attrs, last.Version.SlogAttrWithKey("stream_version"))
	}
	log.Info("final booking compared", attrs...)
	return nil
}

func timeBooking(ctx context.Context, h *resource.CommandHandler, cmd resource.BookResource) (time.Duration, error) {
	start := time.Now()
	if _, err := h.HandleBook(ctx, cmd); err != nil && !errors.Is(err, es.ErrPostCommit) {
		return 0, fmt.Errorf("final booking: %w", err)
	}
	return time.Since(start), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", slog.Any("error", err))
		}
	}()
	log.Info("serving metrics", slog.String("addr", addr))
	return srv
}
