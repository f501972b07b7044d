package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linguachat/backend/internal/db"
	"github.com/linguachat/backend/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const userColumns = `id, email, password_hash, full_name, profile_pic, bio, native_language,
        learning_language, location, verified, onboarded,
        signup_code, signup_code_expires_at, reset_code, reset_code_expires_at,
        reset_verified_until, version, created_at, updated_at`

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	signupCode, signupExpires := splitCode(user.SignupCode)
	resetCode, resetExpires := splitCode(user.ResetCode)

	_, err = conn.Exec(ctx, `
        INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
    `, user.ID, user.Email, user.PasswordHash, user.FullName, user.ProfilePic, user.Bio,
		user.NativeLanguage, user.LearningLanguage, user.Location, user.Verified, user.Onboarded,
		signupCode, signupExpires, resetCode, resetExpires, user.ResetVerifiedUntil,
		user.Version, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByID fetches a user by id.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, "id", id)
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, "email", email)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, column, value string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	user, err := scanUser(conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by %s: %w", column, err)
	}
	return user, nil
}

// Update locks the user row, applies mutate and writes the result in one transaction.
func (r *PostgresUserRepository) Update(ctx context.Context, id string, mutate Mutator) (models.User, error) {
	return r.update(ctx, "id", id, mutate)
}

// UpdateByEmail is Update keyed by email address.
func (r *PostgresUserRepository) UpdateByEmail(ctx context.Context, email string, mutate Mutator) (models.User, error) {
	return r.update(ctx, "email", email, mutate)
}

func (r *PostgresUserRepository) update(ctx context.Context, column, value string, mutate Mutator) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var updated models.User
	err = crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1 FOR UPDATE`, value))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock user by %s: %w", column, err)
		}

		next := current.Clone()
		if err := mutate(&next); err != nil {
			return err
		}
		next.ID = current.ID
		next.Email = current.Email
		next.Version = current.Version + 1

		signupCode, signupExpires := splitCode(next.SignupCode)
		resetCode, resetExpires := splitCode(next.ResetCode)

		if _, err := tx.Exec(ctx, `
            UPDATE users
            SET password_hash = $2, full_name = $3, profile_pic = $4, bio = $5,
                native_language = $6, learning_language = $7, location = $8,
                verified = $9, onboarded = $10,
                signup_code = $11, signup_code_expires_at = $12,
                reset_code = $13, reset_code_expires_at = $14,
                reset_verified_until = $15, version = $16, updated_at = $17
            WHERE id = $1
        `, next.ID, next.PasswordHash, next.FullName, next.ProfilePic, next.Bio,
			next.NativeLanguage, next.LearningLanguage, next.Location,
			next.Verified, next.Onboarded,
			signupCode, signupExpires, resetCode, resetExpires,
			next.ResetVerifiedUntil, next.Version, next.UpdatedAt); err != nil {
			return fmt.Errorf("update user: %w", err)
		}

		updated = next
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return updated, nil
}

// ListByIDs returns the users with the given ids. Unknown ids are skipped.
func (r *PostgresUserRepository) ListByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY created_at DESC, id`, ids)
}

// ListExcept returns users whose id is not in exclude, newest first.
func (r *PostgresUserRepository) ListExcept(ctx context.Context, exclude []string, page models.Page) ([]models.User, error) {
	if exclude == nil {
		exclude = []string{}
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id <> ALL($1) ORDER BY created_at DESC, id OFFSET $2`
	args := []any{exclude, page.Offset}
	if page.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, page.Limit)
	}
	return r.list(ctx, query, args...)
}

func (r *PostgresUserRepository) list(ctx context.Context, query string, args ...any) ([]models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user                        models.User
		signupCode, resetCode       *string
		signupExpires, resetExpires *time.Time
		resetVerifiedUntil          *time.Time
	)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.ProfilePic,
		&user.Bio, &user.NativeLanguage, &user.LearningLanguage, &user.Location,
		&user.Verified, &user.Onboarded,
		&signupCode, &signupExpires, &resetCode, &resetExpires,
		&resetVerifiedUntil, &user.Version, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return models.User{}, err
	}
	user.SignupCode = joinCode(signupCode, signupExpires)
	user.ResetCode = joinCode(resetCode, resetExpires)
	if resetVerifiedUntil != nil {
		t := resetVerifiedUntil.UTC()
		user.ResetVerifiedUntil = &t
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func splitCode(code *models.OneTimeCode) (*string, *time.Time) {
	if code == nil {
		return nil, nil
	}
	value := code.Value
	expires := code.ExpiresAt
	return &value, &expires
}

func joinCode(value *string, expires *time.Time) *models.OneTimeCode {
	if value == nil || expires == nil {
		return nil
	}
	return &models.OneTimeCode{Value: *value, ExpiresAt: expires.UTC()}
}

// PostgresFriendRepository provides PostgreSQL-backed persistence for friend edges.
type PostgresFriendRepository struct {
	pool db.Pool
}

// NewPostgresFriendRepository constructs a friend repository backed by PostgreSQL.
func NewPostgresFriendRepository(pool db.Pool) *PostgresFriendRepository {
	return &PostgresFriendRepository{pool: pool}
}

const edgeColumns = `id, requester_id, recipient_id, status, created_at, accepted_at`

// Create persists a new friend edge. The unique pair_key column rejects a
// second edge for the same two users regardless of direction.
func (r *PostgresFriendRepository) Create(ctx context.Context, edge models.FriendEdge) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO friend_edges (id, requester_id, recipient_id, pair_key, status, created_at, accepted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, edge.ID, edge.RequesterID, edge.RecipientID, edge.PairKey(), string(edge.Status), edge.CreatedAt, edge.AcceptedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return ErrConflict
			case pgForeignKeyViolation:
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert friend edge: %w", err)
	}

	return nil
}

// FindByID fetches an edge by id.
func (r *PostgresFriendRepository) FindByID(ctx context.Context, id string) (models.FriendEdge, error) {
	return r.findOne(ctx, `SELECT `+edgeColumns+` FROM friend_edges WHERE id = $1`, id)
}

// FindBetween fetches the edge joining a and b in either direction.
func (r *PostgresFriendRepository) FindBetween(ctx context.Context, a, b string) (models.FriendEdge, error) {
	return r.findOne(ctx, `SELECT `+edgeColumns+` FROM friend_edges WHERE pair_key = $1`, models.PairKey(a, b))
}

func (r *PostgresFriendRepository) findOne(ctx context.Context, query string, arg string) (models.FriendEdge, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.FriendEdge{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	edge, err := scanEdge(conn.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FriendEdge{}, ErrNotFound
		}
		return models.FriendEdge{}, fmt.Errorf("select friend edge: %w", err)
	}
	return edge, nil
}

// DeletePending removes a requester->recipient edge while it is still pending.
func (r *PostgresFriendRepository) DeletePending(ctx context.Context, requesterID, recipientID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM friend_edges
        WHERE requester_id = $1 AND recipient_id = $2 AND status = $3
    `, requesterID, recipientID, string(models.FriendStatusPending))
	if err != nil {
		return fmt.Errorf("delete friend edge: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Accept moves a pending edge to accepted.
func (r *PostgresFriendRepository) Accept(ctx context.Context, id string, at time.Time) (models.FriendEdge, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.FriendEdge{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	edge, err := scanEdge(conn.QueryRow(ctx, `
        UPDATE friend_edges
        SET status = $2, accepted_at = $3
        WHERE id = $1 AND status = $4
        RETURNING `+edgeColumns,
		id, string(models.FriendStatusAccepted), at, string(models.FriendStatusPending)))
	if err == nil {
		return edge, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.FriendEdge{}, fmt.Errorf("accept friend edge: %w", err)
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM friend_edges WHERE id = $1)`, id).Scan(&exists); err != nil {
		return models.FriendEdge{}, fmt.Errorf("check friend edge: %w", err)
	}
	if !exists {
		return models.FriendEdge{}, ErrNotFound
	}
	return models.FriendEdge{}, ErrConflict
}

// ListForUser returns edges where the user is the requester or recipient.
func (r *PostgresFriendRepository) ListForUser(ctx context.Context, userID string) ([]models.FriendEdge, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+edgeColumns+`
        FROM friend_edges
        WHERE requester_id = $1 OR recipient_id = $1
        ORDER BY created_at DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query friend edges: %w", err)
	}
	defer rows.Close()

	var edges []models.FriendEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend edge: %w", err)
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend edges: %w", err)
	}

	return edges, nil
}

func scanEdge(row pgx.Row) (models.FriendEdge, error) {
	var (
		edge       models.FriendEdge
		status     string
		acceptedAt *time.Time
	)
	if err := row.Scan(&edge.ID, &edge.RequesterID, &edge.RecipientID, &status, &edge.CreatedAt, &acceptedAt); err != nil {
		return models.FriendEdge{}, err
	}
	edge.Status = models.FriendStatus(status)
	edge.CreatedAt = edge.CreatedAt.UTC()
	if acceptedAt != nil {
		t := acceptedAt.UTC()
		edge.AcceptedAt = &t
	}
	return edge, nil
}
