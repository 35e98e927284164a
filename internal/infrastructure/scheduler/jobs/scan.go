// Package jobs contains the scheduled batch jobs of the TruthRank engine.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
)

// ScanConfig controls how a job walks the user store.
type ScanConfig struct {
	// PageSize is the keyset page fetched per round trip.
	PageSize int

	// Concurrency bounds the users processed in parallel within a page.
	Concurrency int

	// PageTimeout bounds fetching and processing one page.
	PageTimeout time.Duration
}

// DefaultScanConfig returns the production defaults.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		PageSize:    200,
		Concurrency: 8,
		PageTimeout: 30 * time.Second,
	}
}

func (c ScanConfig) withDefaults() ScanConfig {
	d := DefaultScanConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = d.PageTimeout
	}
	return c
}

// ErrorDetail is one user's failure inside a run.
type ErrorDetail struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// errorLog collects per-user failures from concurrent workers.
type errorLog struct {
	mu      sync.Mutex
	details []ErrorDetail
}

func (l *errorLog) add(userID string, err error) {
	err = shared.WrapError("jobs", "process", shared.ErrPartialBatchFailure, "user "+userID, err)
	l.mu.Lock()
	l.details = append(l.details, ErrorDetail{UserID: userID, Error: err.Error()})
	l.mu.Unlock()
}

func (l *errorLog) snapshot() []ErrorDetail {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorDetail{}, l.details...)
}

// scanUsers pages through every user matching filter and calls process for
// each one on a bounded pool. A failing user is reported through onError and
// does not stop the scan; a failing page fetch does and is returned.
func scanUsers(
	ctx context.Context,
	repo rank.Repository,
	filter rank.ScanFilter,
	cfg ScanConfig,
	process func(ctx context.Context, stats *rank.UserStats) error,
	onError func(userID string, err error),
) error {
	cfg = cfg.withDefaults()
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := processPage(ctx, repo, filter, cursor, cfg, process, onError)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

func processPage(
	ctx context.Context,
	repo rank.Repository,
	filter rank.ScanFilter,
	cursor string,
	cfg ScanConfig,
	process func(ctx context.Context, stats *rank.UserStats) error,
	onError func(userID string, err error),
) (string, error) {
	pageCtx, cancel := context.WithTimeout(ctx, cfg.PageTimeout)
	defer cancel()

	page, err := repo.Scan(pageCtx, filter, cursor, cfg.PageSize)
	if err != nil {
		return "", fmt.Errorf("fetch page after %q: %w", cursor, err)
	}

	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)
	for _, stats := range page.Items {
		g.Go(func() error {
			if err := process(pageCtx, stats); err != nil {
				onError(stats.UserID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Users cut off by the page timeout are already recorded; the scan
	// moves on to the next page.
	return page.NextCursor, nil
}
