package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"travelflow-backend/database"
	"travelflow-backend/models"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DocumentStore persists one document per user and notifies subscribers
// whenever it changes. Writes replace the whole document.
type DocumentStore interface {
	Get(ctx context.Context, userID string) ([]byte, error)
	Write(ctx context.Context, userID string, doc *models.MultiTripDocument) error
	// Subscribe delivers the current document (nil when absent) and then every
	// subsequent change until the subscription is closed or fails.
	Subscribe(ctx context.Context, userID string, onSnapshot func([]byte), onError func(error)) (Subscription, error)
}

type Subscription interface {
	Close()
}

const notifyChannel = "trip_documents"

type documentRepository struct {
	db *database.DB
}

func NewDocumentRepository(db *database.DB) DocumentStore {
	return &documentRepository{db: db}
}

func (r *documentRepository) Get(ctx context.Context, userID string) ([]byte, error) {
	query := `SELECT document FROM trip_documents WHERE user_id = $1`

	var raw []byte
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting trip document: %w", err)
	}
	return raw, nil
}

func (r *documentRepository) Write(ctx context.Context, userID string, doc *models.MultiTripDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding trip document: %w", err)
	}

	return r.db.WithTx(ctx, func(tx database.Querier) error {
		query := `INSERT INTO trip_documents (user_id, document, updated_at)
		          VALUES ($1, $2, NOW())
		          ON CONFLICT (user_id) DO UPDATE SET
		              document = EXCLUDED.document,
		              updated_at = NOW()`
		if _, err := tx.Exec(ctx, query, userID, payload); err != nil {
			return fmt.Errorf("writing trip document: %w", err)
		}
		// Delivered to listeners on commit.
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, userID); err != nil {
			return fmt.Errorf("notifying trip document change: %w", err)
		}
		return nil
	})
}

type pgSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *pgSubscription) Close() {
	s.cancel()
	<-s.done
}

func (r *documentRepository) Subscribe(ctx context.Context, userID string, onSnapshot func([]byte), onError func(error)) (Subscription, error) {
	conn, err := r.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listening for trip document changes: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &pgSubscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer func() {
			unlistenCtx, cancelUnlisten := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancelUnlisten()
			if _, err := conn.Exec(unlistenCtx, "UNLISTEN "+notifyChannel); err != nil {
				zap.L().Debug("Unlisten failed, connection will be discarded", zap.Error(err))
			}
			conn.Release()
		}()

		deliver := func() bool {
			raw, err := r.Get(subCtx, userID)
			if err != nil {
				if subCtx.Err() == nil {
					onError(err)
				}
				return false
			}
			onSnapshot(raw)
			return true
		}

		if !deliver() {
			return
		}

		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				onError(fmt.Errorf("waiting for trip document notification: %w", err))
				return
			}
			if n.Payload != userID {
				continue
			}
			if !deliver() {
				return
			}
		}
	}()

	return sub, nil
}
