package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/pkg/logger"
)

// Postgres error codes.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool            *pgxpool.Pool
	maxConns        int32
	connectAttempts int
	retryInterval   time.Duration
	log             logger.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL, retrying the first connection,
// and applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string, opts ...Option) (*PostgresStore, error) {
	s := &PostgresStore{
		maxConns:        10,
		connectAttempts: 5,
		retryInterval:   2 * time.Second,
		log:             logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = s.maxConns
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := s.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.pool = pool

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) connect(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	var err error
	for attempt := 1; attempt <= s.connectAttempts; attempt++ {
		var pool *pgxpool.Pool
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				s.log.Info(ctx, "database connected", logger.Int("attempt", attempt))
				return pool, nil
			}
			pool.Close()
		}

		s.log.Warn(ctx, "database connection attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", s.connectAttempts),
			logger.Error(err))
		if attempt < s.connectAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryInterval):
			}
		}
	}
	return nil, fmt.Errorf("database connection failed after %d attempts: %w", s.connectAttempts, err)
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSpot(ctx context.Context, sp model.Spot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO spots (id, title, note, photo_url, photo_path, lat, lng, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sp.ID, sp.Title, sp.Note, sp.PhotoURL, sp.PhotoPath, sp.Lat, sp.Lng, sp.CreatedAt)
	if err != nil {
		return mapPgError("create spot", err)
	}
	return nil
}

const spotColumns = `id, title, note, photo_url, photo_path, lat, lng, created_at`

func scanSpot(row pgx.Row) (model.Spot, error) {
	var sp model.Spot
	err := row.Scan(&sp.ID, &sp.Title, &sp.Note, &sp.PhotoURL, &sp.PhotoPath, &sp.Lat, &sp.Lng, &sp.CreatedAt)
	sp.CreatedAt = sp.CreatedAt.UTC()
	return sp, err
}

func (s *PostgresStore) GetSpot(ctx context.Context, id string) (model.Spot, error) {
	sp, err := scanSpot(s.pool.QueryRow(ctx, `SELECT `+spotColumns+` FROM spots WHERE id = $1`, id))
	if err != nil {
		return model.Spot{}, mapPgError("get spot", err)
	}
	return sp, nil
}

func (s *PostgresStore) ListSpots(ctx context.Context, limit int) ([]model.Spot, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+spotColumns+` FROM spots ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list spots: %w", err)
	}
	defer rows.Close()

	out := make([]model.Spot, 0, limit)
	for rows.Next() {
		sp, err := scanSpot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan spot: %w", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list spots: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountSpots(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM spots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count spots: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateSpot(ctx context.Context, id string, p model.SpotPatch) (model.Spot, error) {
	sp, err := scanSpot(s.pool.QueryRow(ctx, `
		UPDATE spots
		SET title = COALESCE($2, title), note = COALESCE($3, note)
		WHERE id = $1
		RETURNING `+spotColumns, id, p.Title, p.Note))
	if err != nil {
		return model.Spot{}, mapPgError("update spot", err)
	}
	return sp, nil
}

func (s *PostgresStore) DeleteSpot(ctx context.Context, id string) (model.Spot, error) {
	sp, err := scanSpot(s.pool.QueryRow(ctx, `DELETE FROM spots WHERE id = $1 RETURNING `+spotColumns, id))
	if err != nil {
		return model.Spot{}, mapPgError("delete spot", err)
	}
	return sp, nil
}

// UpsertVote keeps omitted fields: each column is replaced only when its
// write flag is set.
func (s *PostgresStore) UpsertVote(ctx context.Context, voterID string, in model.VoteInput) (model.VoteRow, error) {
	var rating, verdict any
	if in.Rating != nil {
		rating = int16(*in.Rating)
	}
	if in.Verdict != nil {
		verdict = string(*in.Verdict)
	}
	writeVerdict := in.Verdict != nil || in.ClearVerdict

	row, err := scanVote(s.pool.QueryRow(ctx, `
		INSERT INTO spot_votes (spot_id, voter_id, rating, verdict, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (spot_id, voter_id) DO UPDATE SET
			rating     = CASE WHEN $5::boolean THEN EXCLUDED.rating ELSE spot_votes.rating END,
			verdict    = CASE WHEN $6::boolean THEN EXCLUDED.verdict ELSE spot_votes.verdict END,
			updated_at = NOW()
		RETURNING `+voteColumns,
		in.SpotID, voterID, rating, verdict, in.Rating != nil, writeVerdict))
	if err != nil {
		return model.VoteRow{}, mapPgError("upsert vote", err)
	}
	return row, nil
}

const voteColumns = `spot_id, voter_id, rating, verdict, updated_at`

func scanVote(row pgx.Row) (model.VoteRow, error) {
	var (
		r       model.VoteRow
		rating  pgtype.Int2
		verdict pgtype.Text
	)
	if err := row.Scan(&r.SpotID, &r.VoterID, &rating, &verdict, &r.UpdatedAt); err != nil {
		return model.VoteRow{}, err
	}
	if rating.Valid {
		v := int(rating.Int16)
		r.Rating = &v
	}
	if verdict.Valid {
		v := model.Verdict(verdict.String)
		r.Verdict = &v
	}
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (s *PostgresStore) ListVotes(ctx context.Context, spotID string) ([]model.VoteRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+voteColumns+` FROM spot_votes WHERE spot_id = $1 ORDER BY voter_id`, spotID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var out []model.VoteRow
	for rows.Next() {
		r, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetVote(ctx context.Context, spotID, voterID string) (model.VoteRow, error) {
	r, err := scanVote(s.pool.QueryRow(ctx,
		`SELECT `+voteColumns+` FROM spot_votes WHERE spot_id = $1 AND voter_id = $2`, spotID, voterID))
	if err != nil {
		return model.VoteRow{}, mapPgError("get vote", err)
	}
	return r, nil
}

func (s *PostgresStore) QueuePhotoDeletion(ctx context.Context, path string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO photo_deletions (path) VALUES ($1) ON CONFLICT (path) DO NOTHING`, path)
	if err != nil {
		return fmt.Errorf("queue photo deletion: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingPhotoDeletions(ctx context.Context, limit int) ([]PhotoDeletion, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT path, attempts FROM photo_deletions ORDER BY attempts, queued_at, path LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending photo deletions: %w", err)
	}
	defer rows.Close()

	var out []PhotoDeletion
	for rows.Next() {
		var d PhotoDeletion
		if err := rows.Scan(&d.Path, &d.Attempts); err != nil {
			return nil, fmt.Errorf("scan photo deletion: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClearPhotoDeletion(ctx context.Context, path string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM photo_deletions WHERE path = $1`, path); err != nil {
		return fmt.Errorf("clear photo deletion: %w", err)
	}
	return nil
}

func (s *PostgresStore) BumpPhotoDeletion(ctx context.Context, path string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE photo_deletions SET attempts = attempts + 1 WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("bump photo deletion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// mapPgError turns driver errors into store kinds.
func mapPgError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
