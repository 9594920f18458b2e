// Command loadtest books random slots on a set of resources from many
// workers at once and reports how the commands ended.
//
// With ESS_LOAD_SERIALIZE=true commands for one resource run one at a time in
// process, so optimistic concurrency conflicts only come from other processes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rcknight/ESSnapshots/core/es"
	"github.com/rcknight/ESSnapshots/core/perkey"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(cfg, log, nil)
	if err != nil {
		return err
	}
	defer b.Close()

	h := resource.NewCommandHandler(b.Log, time.Now, b.Options...)
	st, err := load(ctx, h, cfg.Load)
	if err != nil {
		return err
	}
	log.Info(
		"load finished",
		slog.Int64("committed", st.committed.Load()),
		slog.Int64("rejected", st.rejected.Load()),
		slog.Int64("conflicts", st.conflicts.Load()),
		slog.Int64("post_commit_failures", st.postCommit.Load()),
		slog.Float64("commands_per_sec", float64(st.total())/cfg.Load.Duration.Seconds()),
	)
	return nil
}

type stats struct {
	committed  atomic.Int64
	rejected   atomic.Int64
	conflicts  atomic.Int64
	postCommit atomic.Int64
}

func (s *stats) total() int64 {
	return s.committed.Load() + s.rejected.Load() + s.conflicts.Load() + s.postCommit.Load()
}

func (s *stats) record(err error) error {
	switch {
	case err == nil:
		s.committed.Add(1)
	case errors.Is(err, es.ErrPostCommit):
		s.postCommit.Add(1)
	case errors.Is(err, es.ErrDomainRuleViolation):
		s.rejected.Add(1)
	case errors.Is(err, es.ErrConcurrencyConflict):
		s.conflicts.Add(1)
	default:
		return err
	}
	return nil
}

// load creates cfg.Resources resources and books random slots on them from
// cfg.Workers goroutines until cfg.Duration passed or ctx is done.
func load(ctx context.Context, h *resource.CommandHandler, cfg config.Load) (*stats, error) {
	ids := make([]string, cfg.Resources)
	for i := range ids {
		ids[i] = uuid.NewString()
		_, err := h.HandleCreate(ctx, resource.CreateResource{ResourceID: ids[i], Name: fmt.Sprintf("Room %d", i)})
		if err != nil {
			return nil, fmt.Errorf("create resource %d: %w", i, err)
		}
	}

	var lanes *perkey.Scheduler[string]
	if cfg.Serialize {
		lanes = perkey.New[string]()
		defer lanes.Close()
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	st := &stats{}
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				cmd := resource.BookResource{
					ResourceID: ids[rand.IntN(len(ids))],
					ActivityID: uuid.NewString(),
					Date:       time.Now().AddDate(0, 0, 1+rand.IntN(30)),
					TimeSlot:   rand.IntN(resource.MaxTimeSlot + 1),
				}
				book := func() error {
					_, err := h.HandleBook(ctx, cmd)
					return err
				}

				var err error
				if lanes != nil {
					err = lanes.Do(ctx, cmd.ResourceID, book)
				} else {
					err = book()
				}
				if ctx.Err() != nil {
					return nil
				}
				if err := st.record(err); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return st, g.Wait()
}
