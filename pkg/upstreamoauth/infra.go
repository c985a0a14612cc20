package upstreamoauth

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trailforge/authcore/pkg/kernel"
)

// SQLTokenRepository implements TokenRepository against user_oauth_tokens,
// one row per (user_id, tenant_id, provider).
type SQLTokenRepository struct {
	db *sqlx.DB
}

func NewSQLTokenRepository(db *sqlx.DB) *SQLTokenRepository {
	return &SQLTokenRepository{db: db}
}

type tokenRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	TenantID       string         `db:"tenant_id"`
	Provider       string         `db:"provider"`
	AccessTokenCT  []byte         `db:"access_token_ct"`
	RefreshTokenCT []byte         `db:"refresh_token_ct"`
	Nonce          []byte         `db:"nonce"`
	Scope          sql.NullString `db:"scope"`
	ExpiresAt      time.Time      `db:"expires_at"`
	Stale          bool           `db:"stale"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r tokenRow) toDomain() UserOAuthToken {
	return UserOAuthToken{
		ID:                    r.ID,
		UserID:                kernel.NewUserID(r.UserID),
		TenantID:              kernel.NewTenantID(r.TenantID),
		Provider:              r.Provider,
		EncryptedAccessToken:  r.AccessTokenCT,
		EncryptedRefreshToken: r.RefreshTokenCT,
		Nonce:                 r.Nonce,
		Scope:                 r.Scope.String,
		ExpiresAt:             r.ExpiresAt,
		Stale:                 r.Stale,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

// Upsert fully replaces the row for (user_id, tenant_id, provider): every
// column is overwritten, never merged, so a stale refresh token from a
// previous connection can never survive a successful new one.
func (r *SQLTokenRepository) Upsert(ctx context.Context, token UserOAuthToken) error {
	query := r.db.Rebind(`
		INSERT INTO user_oauth_tokens (
			id, user_id, tenant_id, provider, access_token_ct, refresh_token_ct,
			nonce, scope, expires_at, stale, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, tenant_id, provider) DO UPDATE SET
			access_token_ct  = EXCLUDED.access_token_ct,
			refresh_token_ct = EXCLUDED.refresh_token_ct,
			nonce            = EXCLUDED.nonce,
			scope            = EXCLUDED.scope,
			expires_at       = EXCLUDED.expires_at,
			stale            = EXCLUDED.stale,
			updated_at       = EXCLUDED.updated_at`)

	var scope interface{}
	if token.Scope != "" {
		scope = token.Scope
	}

	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.UserID.String(), token.TenantID.String(), token.Provider,
		token.EncryptedAccessToken, token.EncryptedRefreshToken, token.Nonce,
		scope, token.ExpiresAt, token.Stale, token.CreatedAt, token.UpdatedAt)
	return err
}

func (r *SQLTokenRepository) Find(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) (*UserOAuthToken, error) {
	query := r.db.Rebind(`
		SELECT id, user_id, tenant_id, provider, access_token_ct, refresh_token_ct,
			nonce, scope, expires_at, stale, created_at, updated_at
		FROM user_oauth_tokens WHERE user_id = ? AND tenant_id = ? AND provider = ?`)

	var row tokenRow
	if err := r.db.GetContext(ctx, &row, query, userID.String(), tenantID.String(), provider); err != nil {
		return nil, err
	}
	tok := row.toDomain()
	return &tok, nil
}

func (r *SQLTokenRepository) MarkStale(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) error {
	query := r.db.Rebind(`UPDATE user_oauth_tokens SET stale = true, updated_at = ?
		WHERE user_id = ? AND tenant_id = ? AND provider = ?`)
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), userID.String(), tenantID.String(), provider)
	return err
}

func (r *SQLTokenRepository) Delete(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) error {
	query := r.db.Rebind(`DELETE FROM user_oauth_tokens WHERE user_id = ? AND tenant_id = ? AND provider = ?`)
	_, err := r.db.ExecContext(ctx, query, userID.String(), tenantID.String(), provider)
	return err
}

// SQLStateRepository implements StateRepository against oauth_client_states,
// the client-side CSRF store distinct from oauth2as's authorization-server
// state table.
type SQLStateRepository struct {
	db *sqlx.DB
}

func NewSQLStateRepository(db *sqlx.DB) *SQLStateRepository {
	return &SQLStateRepository{db: db}
}

type clientStateRow struct {
	StateValue   string         `db:"state_value"`
	Provider     string         `db:"provider"`
	UserID       string         `db:"user_id"`
	CodeVerifier sql.NullString `db:"code_verifier"`
	ExpiresAt    time.Time      `db:"expires_at"`
	Consumed     bool           `db:"consumed"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r *SQLStateRepository) Save(ctx context.Context, state OAuthClientState) error {
	query := r.db.Rebind(`
		INSERT INTO oauth_client_states (state_value, provider, user_id, code_verifier, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	var verifier interface{}
	if state.CodeVerifier != "" {
		verifier = state.CodeVerifier
	}

	_, err := r.db.ExecContext(ctx, query, state.StateValue, state.Provider, state.UserID.String(), verifier, state.ExpiresAt, state.CreatedAt)
	return err
}

// ConsumeState atomically marks the state value consumed, returning the
// pre-image. A zero-row update means the value was unknown, expired, or
// already consumed, which the caller treats as ErrInvalidState.
func (r *SQLStateRepository) ConsumeState(ctx context.Context, stateValue string, now time.Time) (*OAuthClientState, error) {
	query := r.db.Rebind(`
		UPDATE oauth_client_states SET consumed = true
		WHERE state_value = ? AND consumed = false AND expires_at > ?
		RETURNING state_value, provider, user_id, code_verifier, expires_at, consumed, created_at`)

	var row clientStateRow
	if err := r.db.GetContext(ctx, &row, query, stateValue, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}

	return &OAuthClientState{
		StateValue:   row.StateValue,
		Provider:     row.Provider,
		UserID:       kernel.NewUserID(row.UserID),
		CodeVerifier: row.CodeVerifier.String,
		ExpiresAt:    row.ExpiresAt,
		CreatedAt:    row.CreatedAt,
	}, nil
}
