package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write lost to the row that is already
	// there: duplicate submission, duplicate vote, or a registration race.
	ErrConflict  = errors.New("conflict")
	ErrVoteLimit = errors.New("vote limit reached")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

func (s *PostgresStore) GetInstance(ctx context.Context, hostname string) (Instance, error) {
	var inst Instance
	err := s.db.QueryRowContext(ctx, `
		SELECT hostname, client_id, client_secret FROM instance WHERE hostname=$1
	`, hostname).Scan(&inst.Hostname, &inst.ClientID, &inst.ClientSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return Instance{}, ErrNotFound
	}
	if err != nil {
		return Instance{}, fmt.Errorf("lookup instance: %w", err)
	}
	return inst, nil
}

func (s *PostgresStore) GetInstanceByClientID(ctx context.Context, clientID string) (Instance, error) {
	var inst Instance
	err := s.db.QueryRowContext(ctx, `
		SELECT hostname, client_id, client_secret FROM instance WHERE client_id=$1
	`, clientID).Scan(&inst.Hostname, &inst.ClientID, &inst.ClientSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return Instance{}, ErrNotFound
	}
	if err != nil {
		return Instance{}, fmt.Errorf("lookup instance by client id: %w", err)
	}
	return inst, nil
}

// EnsureInstance persists inst unless a row for the hostname already exists,
// in which case the existing row wins and is returned. Two concurrent
// first-time registrations therefore converge on a single record.
func (s *PostgresStore) EnsureInstance(ctx context.Context, inst Instance) (Instance, error) {
	var stored Instance
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO instance (hostname, client_id, client_secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (hostname) DO NOTHING
		RETURNING hostname, client_id, client_secret
	`, inst.Hostname, inst.ClientID, inst.ClientSecret).Scan(&stored.Hostname, &stored.ClientID, &stored.ClientSecret)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race; re-read the row the winner wrote.
		return s.GetInstance(ctx, inst.Hostname)
	}
	if err != nil {
		return Instance{}, fmt.Errorf("insert instance: %w", err)
	}
	return stored, nil
}

// InsertLiterature persists one literature entry. The existence check and the
// insert share a transaction; the unique index on (author_handle,
// author_instance) is the final arbiter under concurrency.
func (s *PostgresStore) InsertLiterature(ctx context.Context, item Literature) (Literature, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Literature{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM literature WHERE author_handle=$1 AND author_instance=$2)
	`, item.AuthorHandle, item.AuthorInstance).Scan(&exists)
	if err != nil {
		return Literature{}, fmt.Errorf("check existing literature: %w", err)
	}
	if exists {
		return Literature{}, ErrConflict
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO literature (title, text, is_nsfw, author_handle, author_instance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, item.Title, item.Text, item.IsNsfw, item.AuthorHandle, item.AuthorInstance).Scan(&item.ID)
	if isUniqueViolation(err) {
		return Literature{}, ErrConflict
	}
	if err != nil {
		return Literature{}, fmt.Errorf("insert literature: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return Literature{}, ErrConflict
		}
		return Literature{}, fmt.Errorf("commit literature: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetLiterature(ctx context.Context, id int64) (Literature, error) {
	var item Literature
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, text, is_nsfw, author_handle, author_instance
		FROM literature WHERE id=$1
	`, id).Scan(&item.ID, &item.Title, &item.Text, &item.IsNsfw, &item.AuthorHandle, &item.AuthorInstance)
	if errors.Is(err, sql.ErrNoRows) {
		return Literature{}, ErrNotFound
	}
	if err != nil {
		return Literature{}, fmt.Errorf("lookup literature: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListLiteratureMetadata(ctx context.Context) ([]LiteratureMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, is_nsfw, author_handle, author_instance
		FROM literature ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list literature: %w", err)
	}
	defer rows.Close()

	items := []LiteratureMetadata{}
	for rows.Next() {
		var item LiteratureMetadata
		if err := rows.Scan(&item.ID, &item.Title, &item.IsNsfw, &item.AuthorHandle, &item.AuthorInstance); err != nil {
			return nil, fmt.Errorf("scan literature: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertArt(ctx context.Context, item Art) (Art, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Art{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM art WHERE author_handle=$1 AND author_instance=$2)
	`, item.AuthorHandle, item.AuthorInstance).Scan(&exists)
	if err != nil {
		return Art{}, fmt.Errorf("check existing art: %w", err)
	}
	if exists {
		return Art{}, ErrConflict
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO art (title, description, is_nsfw, data, author_handle, author_instance)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, item.Title, item.Description, item.IsNsfw, item.Data, item.AuthorHandle, item.AuthorInstance).Scan(&item.ID)
	if isUniqueViolation(err) {
		return Art{}, ErrConflict
	}
	if err != nil {
		return Art{}, fmt.Errorf("insert art: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return Art{}, ErrConflict
		}
		return Art{}, fmt.Errorf("commit art: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetArtMetadata(ctx context.Context, id int64) (ArtMetadata, error) {
	var item ArtMetadata
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, is_nsfw, author_handle, author_instance
		FROM art WHERE id=$1
	`, id).Scan(&item.ID, &item.Title, &item.Description, &item.IsNsfw, &item.AuthorHandle, &item.AuthorInstance)
	if errors.Is(err, sql.ErrNoRows) {
		return ArtMetadata{}, ErrNotFound
	}
	if err != nil {
		return ArtMetadata{}, fmt.Errorf("lookup art: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetArtData(ctx context.Context, id int64) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM art WHERE id=$1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup art data: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) ListArtMetadata(ctx context.Context) ([]ArtMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, is_nsfw, author_handle, author_instance
		FROM art ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list art: %w", err)
	}
	defer rows.Close()

	items := []ArtMetadata{}
	for rows.Next() {
		var item ArtMetadata
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.IsNsfw, &item.AuthorHandle, &item.AuthorInstance); err != nil {
			return nil, fmt.Errorf("scan art: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// voteQueries holds the per-category SQL for the vote ledger. The two vote
// tables are structurally identical apart from the referenced entry table.
type voteQueries struct {
	entryExists string
	voteExists  string
	countByUser string
	insert      string
}

var literatureVoteQueries = voteQueries{
	entryExists: `SELECT EXISTS(SELECT 1 FROM literature WHERE id=$1)`,
	voteExists:  `SELECT EXISTS(SELECT 1 FROM literature_vote WHERE handle=$1 AND instance=$2 AND literature_id=$3)`,
	countByUser: `SELECT COUNT(*) FROM literature_vote WHERE handle=$1 AND instance=$2`,
	insert:      `INSERT INTO literature_vote (handle, instance, literature_id) VALUES ($1, $2, $3)`,
}

var artVoteQueries = voteQueries{
	entryExists: `SELECT EXISTS(SELECT 1 FROM art WHERE id=$1)`,
	voteExists:  `SELECT EXISTS(SELECT 1 FROM art_vote WHERE handle=$1 AND instance=$2 AND art_id=$3)`,
	countByUser: `SELECT COUNT(*) FROM art_vote WHERE handle=$1 AND instance=$2`,
	insert:      `INSERT INTO art_vote (handle, instance, art_id) VALUES ($1, $2, $3)`,
}

func (s *PostgresStore) CastLiteratureVote(ctx context.Context, handle, instance string, entryID int64, maxVotes int) error {
	return s.castVote(ctx, literatureVoteQueries, handle, instance, entryID, maxVotes)
}

func (s *PostgresStore) CastArtVote(ctx context.Context, handle, instance string, entryID int64, maxVotes int) error {
	return s.castVote(ctx, artVoteQueries, handle, instance, entryID, maxVotes)
}

// castVote re-checks every precondition inside one transaction. The unique
// index re-validates the duplicate check at insert time; the foreign key
// re-validates target existence. The cap has no constraint backing it, and
// two concurrent votes on distinct entries share no row for the unique index
// to collide on, so the transaction takes a per-voter advisory lock before
// counting. The lock is released at commit or rollback.
func (s *PostgresStore) castVote(ctx context.Context, q voteQueries, handle, instance string, entryID int64, maxVotes int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || '@' || $2))`, handle, instance); err != nil {
		return fmt.Errorf("lock voter: %w", err)
	}

	var entryExists bool
	if err := tx.QueryRowContext(ctx, q.entryExists, entryID).Scan(&entryExists); err != nil {
		return fmt.Errorf("check entry: %w", err)
	}
	if !entryExists {
		return ErrNotFound
	}

	var voted bool
	if err := tx.QueryRowContext(ctx, q.voteExists, handle, instance, entryID).Scan(&voted); err != nil {
		return fmt.Errorf("check existing vote: %w", err)
	}
	if voted {
		return ErrConflict
	}

	var count int
	if err := tx.QueryRowContext(ctx, q.countByUser, handle, instance).Scan(&count); err != nil {
		return fmt.Errorf("count votes: %w", err)
	}
	if count >= maxVotes {
		return ErrVoteLimit
	}

	if _, err := tx.ExecContext(ctx, q.insert, handle, instance, entryID); err != nil {
		switch {
		case isUniqueViolation(err):
			return ErrConflict
		case isForeignKeyViolation(err):
			return ErrNotFound
		}
		return fmt.Errorf("insert vote: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("commit vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) LiteratureVoteStatus(ctx context.Context, handle, instance string, entryID int64) (VoteStatus, error) {
	return s.voteStatus(ctx, literatureVoteQueries, handle, instance, entryID)
}

func (s *PostgresStore) ArtVoteStatus(ctx context.Context, handle, instance string, entryID int64) (VoteStatus, error) {
	return s.voteStatus(ctx, artVoteQueries, handle, instance, entryID)
}

func (s *PostgresStore) voteStatus(ctx context.Context, q voteQueries, handle, instance string, entryID int64) (VoteStatus, error) {
	var status VoteStatus
	if err := s.db.QueryRowContext(ctx, q.voteExists, handle, instance, entryID).Scan(&status.Voted); err != nil {
		return VoteStatus{}, fmt.Errorf("check vote: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, q.countByUser, handle, instance).Scan(&status.TotalVotes); err != nil {
		return VoteStatus{}, fmt.Errorf("count votes: %w", err)
	}
	return status, nil
}

// TallyLiterature ranks entries by vote count, oldest entry first on ties.
func (s *PostgresStore) TallyLiterature(ctx context.Context) ([]TalliedLiterature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.title, l.is_nsfw, l.author_handle, l.author_instance, COUNT(v.id) AS vote_count
		FROM literature l
		LEFT JOIN literature_vote v ON v.literature_id = l.id
		GROUP BY l.id
		ORDER BY vote_count DESC, l.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("tally literature: %w", err)
	}
	defer rows.Close()

	items := []TalliedLiterature{}
	for rows.Next() {
		var item TalliedLiterature
		if err := rows.Scan(&item.ID, &item.Title, &item.IsNsfw, &item.AuthorHandle, &item.AuthorInstance, &item.VoteCount); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) TallyArt(ctx context.Context) ([]TalliedArt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.title, a.description, a.is_nsfw, a.author_handle, a.author_instance, COUNT(v.id) AS vote_count
		FROM art a
		LEFT JOIN art_vote v ON v.art_id = a.id
		GROUP BY a.id
		ORDER BY vote_count DESC, a.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("tally art: %w", err)
	}
	defer rows.Close()

	items := []TalliedArt{}
	for rows.Next() {
		var item TalliedArt
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.IsNsfw, &item.AuthorHandle, &item.AuthorInstance, &item.VoteCount); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
