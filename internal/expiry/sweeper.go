package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/stores"
)

// DepositsPort is the slice of the deposit service the sweep needs.
type DepositsPort interface {
	ListExpiryCandidates(ctx context.Context, storeID int64, now time.Time) ([]deposits.Deposit, error)
	MarkExpired(ctx context.Context, id int64, notifyCustomer bool) (deposits.Result, error)
}

// StoresPort lists the stores to sweep.
type StoresPort interface {
	List(ctx context.Context) ([]stores.Store, error)
}

// Sweeper walks every store and expires overdue non-VIP deposits. Stores
// are swept concurrently; one bad deposit never stops the rest.
type Sweeper struct {
	logger   *slog.Logger
	deposits DepositsPort
	stores   StoresPort
}

// NewSweeper wires the sweep.
func NewSweeper(logger *slog.Logger, depositsPort DepositsPort, storesPort StoresPort) *Sweeper {
	return &Sweeper{logger: logger, deposits: depositsPort, stores: storesPort}
}

// Stats summarises one sweep run.
type Stats struct {
	Stores  int
	Swept   int
	Expired int
	Failed  int
}

// Run executes one sweep over all stores.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Stats, error) {
	storeList, err := s.stores.List(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Stores: len(storeList)}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, store := range storeList {
		store := store
		g.Go(func() error {
			swept, expired, failed := s.sweepStore(ctx, store.ID, now)
			mu.Lock()
			stats.Swept += swept
			stats.Expired += expired
			stats.Failed += failed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	s.logger.Info("expiry sweep finished",
		slog.Int("stores", stats.Stores),
		slog.Int("swept", stats.Swept),
		slog.Int("expired", stats.Expired),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

func (s *Sweeper) sweepStore(ctx context.Context, storeID int64, now time.Time) (swept, expired, failed int) {
	candidates, err := s.deposits.ListExpiryCandidates(ctx, storeID, now)
	if err != nil {
		s.logger.Error("list expiry candidates",
			slog.Int64("store_id", storeID),
			slog.Any("error", err))
		return 0, 0, 1
	}
	swept = len(candidates)
	for _, d := range candidates {
		if !IsExpired(d, now) {
			continue
		}
		if _, err := s.deposits.MarkExpired(ctx, d.ID, true); err != nil {
			s.logger.Error("mark deposit expired",
				slog.Int64("deposit_id", d.ID),
				slog.String("deposit_code", d.DepositCode),
				slog.Any("error", err))
			failed++
			continue
		}
		expired++
	}
	return swept, expired, failed
}
