package oauth2as

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trailforge/authcore/pkg/kernel"
)

func joinList(items []string) string { return strings.Join(items, ",") }

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// SQLClientRepository implements ClientRepository against oauth2_clients.
type SQLClientRepository struct {
	db *sqlx.DB
}

func NewSQLClientRepository(db *sqlx.DB) *SQLClientRepository {
	return &SQLClientRepository{db: db}
}

type clientRow struct {
	ClientID                string `db:"client_id"`
	ClientSecretHash        string `db:"client_secret_hash"`
	RedirectURIs            string `db:"redirect_uris"`
	GrantTypes              string `db:"grant_types"`
	TokenEndpointAuthMethod string `db:"token_endpoint_auth_method"`
	Scopes                  string `db:"scopes"`
	CreatedAt               time.Time `db:"created_at"`
}

func (r clientRow) toDomain() *OAuth2Client {
	return &OAuth2Client{
		ClientID:                kernel.NewClientID(r.ClientID),
		ClientSecretHash:        r.ClientSecretHash,
		RedirectURIs:            splitList(r.RedirectURIs),
		GrantTypes:              splitList(r.GrantTypes),
		TokenEndpointAuthMethod: r.TokenEndpointAuthMethod,
		Scopes:                  splitList(r.Scopes),
		CreatedAt:               r.CreatedAt,
	}
}

func (r *SQLClientRepository) FindByID(ctx context.Context, clientID kernel.ClientID) (*OAuth2Client, error) {
	query := r.db.Rebind(`SELECT client_id, client_secret_hash, redirect_uris, grant_types, token_endpoint_auth_method, scopes, created_at FROM oauth2_clients WHERE client_id = ?`)
	var row clientRow
	if err := r.db.GetContext(ctx, &row, query, clientID.String()); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *SQLClientRepository) Save(ctx context.Context, client OAuth2Client) error {
	query := r.db.Rebind(`
		INSERT INTO oauth2_clients (client_id, client_secret_hash, redirect_uris, grant_types, token_endpoint_auth_method, scopes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			client_secret_hash = EXCLUDED.client_secret_hash,
			redirect_uris = EXCLUDED.redirect_uris,
			grant_types = EXCLUDED.grant_types,
			token_endpoint_auth_method = EXCLUDED.token_endpoint_auth_method,
			scopes = EXCLUDED.scopes`)
	_, err := r.db.ExecContext(ctx, query,
		client.ClientID.String(), client.ClientSecretHash, joinList(client.RedirectURIs),
		joinList(client.GrantTypes), client.TokenEndpointAuthMethod, joinList(client.Scopes), client.CreatedAt)
	return err
}

// SQLAuthCodeRepository implements AuthCodeRepository against oauth2_auth_codes.
type SQLAuthCodeRepository struct {
	db *sqlx.DB
}

func NewSQLAuthCodeRepository(db *sqlx.DB) *SQLAuthCodeRepository {
	return &SQLAuthCodeRepository{db: db}
}

type authCodeRow struct {
	Code                string         `db:"code"`
	ClientID            string         `db:"client_id"`
	UserID              string         `db:"user_id"`
	RedirectURI         string         `db:"redirect_uri"`
	Scope               sql.NullString `db:"scope"`
	CodeChallenge       string         `db:"code_challenge"`
	CodeChallengeMethod string         `db:"code_challenge_method"`
	ExpiresAt           time.Time      `db:"expires_at"`
	Used                bool           `db:"used"`
	CreatedAt           time.Time      `db:"created_at"`
}

func (r authCodeRow) toDomain() *OAuth2AuthCode {
	return &OAuth2AuthCode{
		Code:                r.Code,
		ClientID:            kernel.NewClientID(r.ClientID),
		UserID:              kernel.NewUserID(r.UserID),
		RedirectURI:         r.RedirectURI,
		Scope:               r.Scope.String,
		CodeChallenge:       r.CodeChallenge,
		CodeChallengeMethod: r.CodeChallengeMethod,
		ExpiresAt:           r.ExpiresAt,
		Used:                r.Used,
		CreatedAt:           r.CreatedAt,
	}
}

func (r *SQLAuthCodeRepository) Save(ctx context.Context, code OAuth2AuthCode) error {
	query := r.db.Rebind(`
		INSERT INTO oauth2_auth_codes (code, client_id, user_id, redirect_uri, scope, code_challenge, code_challenge_method, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		code.Code, code.ClientID.String(), code.UserID.String(), code.RedirectURI, code.Scope,
		code.CodeChallenge, code.CodeChallengeMethod, code.ExpiresAt, code.Used, code.CreatedAt)
	return err
}

// ConsumeAuthCode is the single atomic compare-and-set redemption: the
// UPDATE only matches a row that is unused, unexpired, and bound to the
// presented client_id/redirect_uri, so a mismatch on any of those leaves the
// code untouched (it remains one-shot) and this returns sql.ErrNoRows.
func (r *SQLAuthCodeRepository) ConsumeAuthCode(ctx context.Context, code string, clientID kernel.ClientID, redirectURI string, now time.Time) (*OAuth2AuthCode, error) {
	query := r.db.Rebind(`
		UPDATE oauth2_auth_codes
		SET used = true
		WHERE code = ? AND client_id = ? AND redirect_uri = ? AND used = false AND expires_at > ?
		RETURNING code, client_id, user_id, redirect_uri, scope, code_challenge, code_challenge_method, expires_at, used, created_at`)

	var row authCodeRow
	if err := r.db.GetContext(ctx, &row, query, code, clientID.String(), redirectURI, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// SQLRefreshTokenRepository implements RefreshTokenRepository against
// oauth2_refresh_tokens.
type SQLRefreshTokenRepository struct {
	db *sqlx.DB
}

func NewSQLRefreshTokenRepository(db *sqlx.DB) *SQLRefreshTokenRepository {
	return &SQLRefreshTokenRepository{db: db}
}

type refreshTokenRow struct {
	Token     string         `db:"token"`
	ClientID  string         `db:"client_id"`
	UserID    string         `db:"user_id"`
	Scope     sql.NullString `db:"scope"`
	ExpiresAt time.Time      `db:"expires_at"`
	CreatedAt time.Time      `db:"created_at"`
	Revoked   bool           `db:"revoked"`
}

func (r refreshTokenRow) toDomain() *OAuth2RefreshToken {
	return &OAuth2RefreshToken{
		Token:     r.Token,
		ClientID:  kernel.NewClientID(r.ClientID),
		UserID:    kernel.NewUserID(r.UserID),
		Scope:     r.Scope.String,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		Revoked:   r.Revoked,
	}
}

func (r *SQLRefreshTokenRepository) Save(ctx context.Context, token OAuth2RefreshToken) error {
	query := r.db.Rebind(`
		INSERT INTO oauth2_refresh_tokens (token, client_id, user_id, scope, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		token.Token, token.ClientID.String(), token.UserID.String(), token.Scope, token.ExpiresAt, token.Revoked, token.CreatedAt)
	return err
}

// ConsumeRefreshToken revokes the presented token (only if it is owned by
// clientID, unrevoked, and unexpired) and inserts successor in the same
// transaction, returning the pre-image row so the caller can read its
// user/scope before minting the new access token. A mismatch on any
// predicate — including replay of an already-revoked token — rolls back
// and returns sql.ErrNoRows.
func (r *SQLRefreshTokenRepository) ConsumeRefreshToken(ctx context.Context, token string, clientID kernel.ClientID, successor OAuth2RefreshToken, now time.Time) (*OAuth2RefreshToken, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	updateQuery := r.db.Rebind(`
		UPDATE oauth2_refresh_tokens
		SET revoked = true
		WHERE token = ? AND client_id = ? AND revoked = false AND expires_at > ?
		RETURNING token, client_id, user_id, scope, expires_at, created_at, revoked`)

	var row refreshTokenRow
	if err := tx.GetContext(ctx, &row, updateQuery, token, clientID.String(), now); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}

	insertQuery := r.db.Rebind(`
		INSERT INTO oauth2_refresh_tokens (token, client_id, user_id, scope, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	expiresAt := successor.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = row.ExpiresAt
	}
	scope := row.Scope.String
	if _, err := tx.ExecContext(ctx, insertQuery,
		successor.Token, clientID.String(), row.UserID, scope, expiresAt, false, successor.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return row.toDomain(), nil
}

// SQLStateRepository implements StateRepository against oauth2_states.
type SQLStateRepository struct {
	db *sqlx.DB
}

func NewSQLStateRepository(db *sqlx.DB) *SQLStateRepository {
	return &SQLStateRepository{db: db}
}

type stateRow struct {
	StateValue string         `db:"state_value"`
	ClientID   string         `db:"client_id"`
	UserID     sql.NullString `db:"user_id"`
	ExpiresAt  time.Time      `db:"expires_at"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r stateRow) toDomain() *OAuth2State {
	st := &OAuth2State{
		StateValue: r.StateValue,
		ClientID:   kernel.NewClientID(r.ClientID),
		ExpiresAt:  r.ExpiresAt,
		CreatedAt:  r.CreatedAt,
	}
	if r.UserID.Valid {
		uid := kernel.NewUserID(r.UserID.String)
		st.UserID = &uid
	}
	return st
}

func (r *SQLStateRepository) Save(ctx context.Context, state OAuth2State) error {
	var userID interface{}
	if state.UserID != nil {
		userID = state.UserID.String()
	}
	query := r.db.Rebind(`
		INSERT INTO oauth2_states (state_value, client_id, user_id, expires_at, consumed, created_at)
		VALUES (?, ?, ?, ?, false, ?)`)
	_, err := r.db.ExecContext(ctx, query, state.StateValue, state.ClientID.String(), userID, state.ExpiresAt, state.CreatedAt)
	return err
}

func (r *SQLStateRepository) ConsumeState(ctx context.Context, stateValue string, now time.Time) (*OAuth2State, error) {
	query := r.db.Rebind(`
		UPDATE oauth2_states
		SET consumed = true
		WHERE state_value = ? AND consumed = false AND expires_at > ?
		RETURNING state_value, client_id, user_id, expires_at, created_at`)

	var row stateRow
	if err := r.db.GetContext(ctx, &row, query, stateValue, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return row.toDomain(), nil
}
