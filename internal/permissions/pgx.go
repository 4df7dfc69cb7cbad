package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxStore czyta user_permissions z zewnętrznego Postgresa (database-as-a-service).
type PgxStore struct {
	DB *pgxpool.Pool
}

func NewPgxStore(ctx context.Context, url string) (*PgxStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("permissions: pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("permissions: ping: %w", err)
	}
	return &PgxStore{DB: pool}, nil
}

func (s *PgxStore) Get(ctx context.Context, userID string) (*Permission, error) {
	var p Permission
	err := s.DB.QueryRow(ctx, `
		SELECT user_id, COALESCE(role, ''), COALESCE(can_edit_content, false)
		FROM user_permissions
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Role, &p.CanEditContent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PgxStore) Put(ctx context.Context, p Permission) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO user_permissions (user_id, role, can_edit_content)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET role = EXCLUDED.role, can_edit_content = EXCLUDED.can_edit_content
	`, p.UserID, p.Role, p.CanEditContent)
	return err
}

func (s *PgxStore) Close() {
	if s != nil && s.DB != nil {
		s.DB.Close()
	}
}
