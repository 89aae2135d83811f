package database

import (
	"context"
	"fmt"
	"time"

	"travelflow-backend/migrations"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type DB struct {
	Pool *pgxpool.Pool
}

func New(databaseURL string) (*DB, error) {
	zap.L().Info("Initializing database connection pool")
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		zap.L().Error("Failed to create connection pool", zap.Error(err))
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		zap.L().Error("Failed to ping database", zap.Error(err))
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	zap.L().Info("Database connection established successfully")
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	zap.L().Info("Closing database connection pool")
	db.Pool.Close()
}

// Migrate applies every pending migration from the embedded migrations set.
func (db *DB) Migrate(ctx context.Context) error {
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	for _, r := range results {
		zap.L().Info("Applied migration",
			zap.Int64("version", r.Source.Version),
			zap.Duration("duration", r.Duration))
	}
	return nil
}

func (db *DB) WithTx(ctx context.Context, fn func(Querier) error) (err error) {
	txID := uuid.New().String()
	startTime := time.Now()

	zap.L().Debug("Beginning transaction", zap.String("tx_id", txID))

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		zap.L().Error("Failed to begin transaction", zap.String("tx_id", txID), zap.Error(err))
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("Recovered from panic in transaction", zap.String("tx_id", txID), zap.Any("panic", p))
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			zap.L().Warn("Rolling back transaction due to error", zap.String("tx_id", txID), zap.Error(err))
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				zap.L().Error("Failed to rollback transaction", zap.String("tx_id", txID), zap.Error(rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		zap.L().Error("Failed to commit transaction", zap.String("tx_id", txID), zap.Error(err))
		return fmt.Errorf("committing transaction: %w", err)
	}

	zap.L().Debug("Transaction committed successfully",
		zap.String("tx_id", txID),
		zap.Duration("duration", time.Since(startTime)))
	return nil
}
