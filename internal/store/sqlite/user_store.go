package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/alanyoungcy/bookauction/internal/auth"
	"github.com/alanyoungcy/bookauction/internal/domain"
)

type userRow struct {
	ID          string `db:"id"`
	DisplayName string `db:"display_name"`
	Role        string `db:"role"`
	TokenHash   []byte `db:"token_hash"`
	CreatedAt   int64  `db:"created_at"`
}

// UserStore implements domain.UserStore on SQLite.
type UserStore struct {
	db *sqlx.DB
}

// NewUserStore creates a UserStore on db.
func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// CreateUser inserts u.
func (s *UserStore) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, role, token_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.DisplayName, string(u.Role), u.TokenHash, toMicros(u.CreatedAt),
	)
	return wrapErr(fmt.Sprintf("sqlite: create user %s", u.ID), err)
}

// GetUser returns the user with the given id.
func (s *UserStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	var r userRow
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		return domain.User{}, wrapErr(fmt.Sprintf("sqlite: get user %s", id), err)
	}
	return domain.User{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		Role:        domain.Role(r.Role),
		TokenHash:   r.TokenHash,
		CreatedAt:   fromMicros(r.CreatedAt),
	}, nil
}

// DisplayNames resolves ids in one query.
func (s *UserStore) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id, display_name FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("sqlite: build display names query: %w", err)
	}
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, wrapErr("sqlite: display names", err)
	}
	for _, r := range rows {
		out[r.ID] = r.DisplayName
	}
	return out, nil
}

// Authenticate checks a "<userID>.<secret>" token against the stored hash.
func (s *UserStore) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	userID, secret, ok := auth.ParseToken(token)
	if !ok {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return domain.Identity{}, domain.ErrUnauthorized
		}
		return domain.Identity{}, err
	}
	if !auth.Verify(u.TokenHash, secret) {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return domain.Identity{UserID: u.ID, Role: u.Role}, nil
}

var _ domain.UserStore = (*UserStore)(nil)
