// Package store is the engine's persistence layer: a Postgres-backed
// Manager plus one repository per record set named in spec.md §6.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/foundrypath/waveplan/internal/config"
)

// Manager owns the single pooled Postgres connection and the
// repositories built on top of it. Each repository method takes its own
// context; the pool, not this struct, decides how many physical
// connections are in flight at once.
type Manager struct {
	DB     *sqlx.DB
	logger zerolog.Logger

	Lots          *LotRepository
	Machines      *MachineRepository
	Unavailable   *UnavailabilityRepository
	Plans         *PlanRepository
	JobHistory    *JobHistoryRepository
	Utilization   *UtilizationRepository
}

// NewManager opens the Postgres connection pool and wires up every
// repository.
func NewManager(cfg config.DatabaseConfig, logger zerolog.Logger) (*Manager, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	m := &Manager{DB: db, logger: logger}
	m.Lots = &LotRepository{db: db, logger: logger}
	m.Machines = &MachineRepository{db: db, logger: logger}
	m.Unavailable = &UnavailabilityRepository{db: db, logger: logger}
	m.Plans = &PlanRepository{db: db, logger: logger}
	m.JobHistory = &JobHistoryRepository{db: db, logger: logger}
	m.Utilization = &UtilizationRepository{db: db, logger: logger}

	logger.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("db", cfg.Name).Msg("store connected")
	return m, nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	if m.DB == nil {
		return nil
	}
	return m.DB.Close()
}

// WithConnTransaction runs fn inside a transaction bound to a single
// checked-out connection, matching §4.5's requirement that every
// writer worker own one store connection for its lifetime and that no
// two workers share one. The connection is released back to the pool
// when fn returns, regardless of outcome.
func (m *Manager) WithConnTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	conn, err := m.DB.Connx(ctx)
	if err != nil {
		return fmt.Errorf("store: checkout connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}
