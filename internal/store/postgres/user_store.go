package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bookauction/internal/auth"
	"github.com/alanyoungcy/bookauction/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL. It is the user
// directory and the API token identity provider.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// CreateUser inserts u. TokenHash must already be a bcrypt hash.
func (s *UserStore) CreateUser(ctx context.Context, u domain.User) error {
	const query = `INSERT INTO users (id, display_name, role, token_hash, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, u.ID, u.DisplayName, string(u.Role), u.TokenHash, u.CreatedAt); err != nil {
		return wrapErr(fmt.Sprintf("postgres: create user %s", u.ID), err)
	}
	return nil
}

// GetUser returns the user with the given id.
func (s *UserStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	var (
		u    domain.User
		role string
	)
	const query = `SELECT id, display_name, role, token_hash, created_at FROM users WHERE id = $1`
	if err := s.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.DisplayName, &role, &u.TokenHash, &u.CreatedAt); err != nil {
		return domain.User{}, wrapErr(fmt.Sprintf("postgres: get user %s", id), err)
	}
	u.Role = domain.Role(role)
	return u, nil
}

// DisplayNames resolves ids in a single query.
func (s *UserStore) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, display_name FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, wrapErr("postgres: display names", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, wrapErr("postgres: scan display name", err)
		}
		out[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("postgres: display names rows", err)
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
