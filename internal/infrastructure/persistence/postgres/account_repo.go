package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
	"github.com/nzua-hub/grade-notifier/pkg/sealer"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AccountRepository implements account.Repository for PostgreSQL.
// Login, password and access token go through the sealer; a nil sealer
// stores them as plaintext.
type AccountRepository struct {
	conn   *Connection
	sealer *sealer.Sealer
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(conn *Connection, s *sealer.Sealer) *AccountRepository {
	return &AccountRepository{conn: conn, sealer: s}
}

const accountColumns = `id, full_name, student_id, login, password, access_token, token_expires_at,
	snapshot, created_at, updated_at`

// Get returns an account by id.
func (r *AccountRepository) Get(ctx context.Context, id account.UserID) (*account.Account, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, int64(id))

	acc, err := r.scanAccount(row)
	if IsNoRows(err) {
		return nil, shared.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return acc, nil
}

// Save upserts the whole account row in one statement.
func (r *AccountRepository) Save(ctx context.Context, acc *account.Account) error {
	if acc == nil || !acc.ID.IsValid() {
		return shared.ErrInvalidUserID
	}

	row, err := r.toRow(acc)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			student_id = EXCLUDED.student_id,
			login = EXCLUDED.login,
			password = EXCLUDED.password,
			access_token = EXCLUDED.access_token,
			token_expires_at = EXCLUDED.token_expires_at,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.conn.Exec(ctx, query,
		row.ID,
		row.FullName,
		row.StudentID,
		row.Login,
		row.Password,
		row.AccessToken,
		row.TokenExpiresAt,
		row.Snapshot,
		row.CreatedAt,
		row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save account %d: %w", acc.ID, err)
	}
	return nil
}

// CommitSnapshot writes snapshot and updated_at only while the row still
// carries prev as its updated_at.
func (r *AccountRepository) CommitSnapshot(ctx context.Context, acc *account.Account, prev time.Time) error {
	if acc == nil || !acc.ID.IsValid() {
		return shared.ErrInvalidUserID
	}

	row, err := r.toRow(acc)
	if err != nil {
		return err
	}

	tag, err := r.conn.Exec(ctx, `
		UPDATE accounts SET snapshot = $2, updated_at = $3
		WHERE id = $1 AND updated_at = $4
	`, row.ID, row.Snapshot, row.UpdatedAt, prev)
	if err != nil {
		return fmt.Errorf("failed to commit snapshot %d: %w", acc.ID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, row.ID).Scan(&exists)
	switch {
	case err != nil:
		return fmt.Errorf("failed to check account %d: %w", acc.ID, err)
	case !exists:
		return shared.ErrAccountNotFound
	default:
		return shared.ErrStaleAccount
	}
}

// Delete removes an account.
func (r *AccountRepository) Delete(ctx context.Context, id account.UserID) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete account %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

// ListWithSession returns ids of accounts holding a token, ascending.
func (r *AccountRepository) ListWithSession(ctx context.Context) ([]account.UserID, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id FROM accounts
		WHERE token_expires_at IS NOT NULL AND access_token <> ''
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (account.UserID, error) {
		var id int64
		err := row.Scan(&id)
		return account.UserID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan account ids: %w", err)
	}
	return ids, nil
}

// Ping implements the health check contract.
func (r *AccountRepository) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

// accountRow mirrors the accounts table. Nullable columns are pointers.
type accountRow struct {
	ID             int64
	FullName       *string
	StudentID      *int64
	Login          string
	Password       string
	AccessToken    *string
	TokenExpiresAt *int64
	Snapshot       []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *AccountRepository) toRow(acc *account.Account) (*accountRow, error) {
	snapshot := acc.Snapshot
	if snapshot.Lessons == nil {
		snapshot.Lessons = []grade.Record{}
	}
	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	row := &accountRow{
		ID:        int64(acc.ID),
		Snapshot:  snapJSON,
		CreatedAt: acc.CreatedAt,
		UpdatedAt: acc.UpdatedAt,
	}
	if row.Login, err = r.sealer.Seal(acc.Credentials.Login); err != nil {
		return nil, err
	}
	if row.Password, err = r.sealer.Seal(acc.Credentials.Password); err != nil {
		return nil, err
	}
	if acc.Profile != nil {
		name, sid := acc.Profile.FullName, acc.Profile.StudentID
		row.FullName, row.StudentID = &name, &sid
	}
	if acc.Session != nil {
		token, err := r.sealer.Seal(acc.Session.AccessToken)
		if err != nil {
			return nil, err
		}
		exp := acc.Session.ExpiresAt
		row.AccessToken, row.TokenExpiresAt = &token, &exp
	}
	return row, nil
}

func (r *AccountRepository) scanAccount(row pgx.Row) (*account.Account, error) {
	var ar accountRow
	err := row.Scan(
		&ar.ID,
		&ar.FullName,
		&ar.StudentID,
		&ar.Login,
		&ar.Password,
		&ar.AccessToken,
		&ar.TokenExpiresAt,
		&ar.Snapshot,
		&ar.CreatedAt,
		&ar.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r.fromRow(&ar)
}

func (r *AccountRepository) fromRow(ar *accountRow) (*account.Account, error) {
	acc := &account.Account{
		ID:        account.UserID(ar.ID),
		CreatedAt: ar.CreatedAt,
		UpdatedAt: ar.UpdatedAt,
	}

	var err error
	if acc.Credentials.Login, err = r.sealer.Open(ar.Login); err != nil {
		return nil, fmt.Errorf("open login: %w", err)
	}
	if acc.Credentials.Password, err = r.sealer.Open(ar.Password); err != nil {
		return nil, fmt.Errorf("open password: %w", err)
	}
	if ar.FullName != nil && ar.StudentID != nil {
		acc.Profile = &account.Profile{FullName: *ar.FullName, StudentID: *ar.StudentID}
	}
	if ar.AccessToken != nil && ar.TokenExpiresAt != nil {
		token, err := r.sealer.Open(*ar.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("open access token: %w", err)
		}
		acc.Session = &account.Session{AccessToken: token, ExpiresAt: *ar.TokenExpiresAt}
	}

	if len(ar.Snapshot) > 0 {
		if err := json.Unmarshal(ar.Snapshot, &acc.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}
	return acc, nil
}

var _ account.Repository = (*AccountRepository)(nil)
