package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/truthrank/truthrank/internal/infrastructure/persistence/postgres/migrations"
)

// MigrationStatus describes one embedded migration.
type MigrationStatus struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Migrator applies the embedded goose migrations over database/sql.
type Migrator struct {
	dsn string
}

// NewMigrator creates a migrator for dsn.
func NewMigrator(dsn string) *Migrator {
	return &Migrator{dsn: dsn}
}

func (m *Migrator) withProvider(ctx context.Context, fn func(*goose.Provider) error) error {
	db, err := sql.Open("pgx", m.dsn)
	if err != nil {
		return fmt.Errorf("opening sql connection for migrations: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database for migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}
	return fn(provider)
}

// Up applies all pending migrations and returns the versions applied.
func (m *Migrator) Up(ctx context.Context) ([]int64, error) {
	var applied []int64
	err := m.withProvider(ctx, func(p *goose.Provider) error {
		results, err := p.Up(ctx)
		for _, r := range results {
			applied = append(applied, r.Source.Version)
		}
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		return nil
	})
	return applied, err
}

// Down rolls back the most recent migration. It returns 0 when nothing was
// applied.
func (m *Migrator) Down(ctx context.Context) (int64, error) {
	var version int64
	err := m.withProvider(ctx, func(p *goose.Provider) error {
		result, err := p.Down(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
		version = result.Source.Version
		return nil
	})
	return version, err
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	var out []MigrationStatus
	err := m.withProvider(ctx, func(p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("reading migration status: %w", err)
		}
		for _, s := range statuses {
			out = append(out, MigrationStatus{
				Version:   s.Source.Version,
				Name:      filepath.Base(s.Source.Path),
				Applied:   s.State == goose.StateApplied,
				AppliedAt: s.AppliedAt,
			})
		}
		return nil
	})
	return out, err
}

// RunMigrations applies all pending migrations on dsn.
func RunMigrations(ctx context.Context, dsn string) error {
	_, err := NewMigrator(dsn).Up(ctx)
	return err
}
