package jwks

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// SQLKeyRepository implements KeyRepository against rsa_keypairs.
type SQLKeyRepository struct {
	db *sqlx.DB
}

func NewSQLKeyRepository(db *sqlx.DB) *SQLKeyRepository {
	return &SQLKeyRepository{db: db}
}

type keypairRow struct {
	KID         string `db:"kid"`
	PrivatePEM  string `db:"private_pem"`
	PublicPEM   string `db:"public_pem"`
	KeySizeBits int    `db:"key_size_bits"`
	IsActive    bool   `db:"is_active"`
}

func toRecord(r keypairRow) RSAKeyPair {
	return RSAKeyPair{
		KID:         r.KID,
		PrivatePEM:  r.PrivatePEM,
		PublicPEM:   r.PublicPEM,
		KeySizeBits: r.KeySizeBits,
		IsActive:    r.IsActive,
	}
}

func (r *SQLKeyRepository) Save(ctx context.Context, kp RSAKeyPair) error {
	query := r.db.Rebind(`
		INSERT INTO rsa_keypairs (kid, private_pem, public_pem, key_size_bits, is_active)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, kp.KID, kp.PrivatePEM, kp.PublicPEM, kp.KeySizeBits, kp.IsActive)
	return err
}

func (r *SQLKeyRepository) FindActive(ctx context.Context) (*RSAKeyPair, error) {
	query := r.db.Rebind(`SELECT kid, private_pem, public_pem, key_size_bits, is_active FROM rsa_keypairs WHERE is_active = true`)
	var row keypairRow
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	rec := toRecord(row)
	return &rec, nil
}

func (r *SQLKeyRepository) FindAll(ctx context.Context) ([]RSAKeyPair, error) {
	query := r.db.Rebind(`SELECT kid, private_pem, public_pem, key_size_bits, is_active FROM rsa_keypairs ORDER BY created_at ASC`)
	var rows []keypairRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	out := make([]RSAKeyPair, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRecord(row))
	}
	return out, nil
}

func (r *SQLKeyRepository) FindByKID(ctx context.Context, kid string) (*RSAKeyPair, error) {
	query := r.db.Rebind(`SELECT kid, private_pem, public_pem, key_size_bits, is_active FROM rsa_keypairs WHERE kid = ?`)
	var row keypairRow
	if err := r.db.GetContext(ctx, &row, query, kid); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	rec := toRecord(row)
	return &rec, nil
}

func (r *SQLKeyRepository) DeactivateAll(ctx context.Context) error {
	query := r.db.Rebind(`UPDATE rsa_keypairs SET is_active = false`)
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// DeleteOlderThan keeps the most recent keepCount rows (by created_at) and
// deletes the rest.
func (r *SQLKeyRepository) DeleteOlderThan(ctx context.Context, keepCount int) error {
	query := r.db.Rebind(`
		DELETE FROM rsa_keypairs
		WHERE kid NOT IN (
			SELECT kid FROM rsa_keypairs ORDER BY created_at DESC LIMIT ?
		)`)
	_, err := r.db.ExecContext(ctx, query, keepCount)
	return err
}
