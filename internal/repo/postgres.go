package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
	"github.com/tinoosan/modlib/internal/data"
)

// PostgresStore persists the library and profile in PostgreSQL. Each save
// replaces the stored library in one transaction.
type PostgresStore struct {
	db *sql.DB
}

// PostgresOptions holds connection parts; see config.Postgres.
type PostgresOptions struct {
	Host     string
	Port     string
	DB       string
	User     string
	Password string
	SSLMode  string
}

// DSN builds a connection URL. Credentials and the db name are URL-encoded.
func (o PostgresOptions) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(o.User, o.Password),
		Host:   net.JoinHostPort(o.Host, o.Port),
		Path:   "/" + o.DB,
	}
	q := url.Values{}
	q.Set("sslmode", o.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresStore{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresStore) Close() error { return r.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS library_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS installed_items (
    mod_id UUID PRIMARY KEY,
    position INT NOT NULL,
    update_policy TEXT NOT NULL,
    cached JSONB NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS installed_versions (
    mod_id UUID NOT NULL REFERENCES installed_items(mod_id) ON DELETE CASCADE,
    position INT NOT NULL,
    version TEXT NOT NULL,
    details JSONB NOT NULL,
    location TEXT NOT NULL,
    PRIMARY KEY (mod_id, position)
)`,
	`CREATE TABLE IF NOT EXISTS pending_deletes (
    position INT PRIMARY KEY,
    path TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS profiles (
    name TEXT PRIMARY KEY,
    items JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`,
}

func (r *PostgresStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresStore) LoadLibrary(ctx context.Context) (*LibrarySnapshot, error) {
	s := &LibrarySnapshot{DefaultUpdate: data.DefaultUpdatePolicy}

	var policy string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM library_settings WHERE key='default_update'`).Scan(&policy)
	switch {
	case err == nil:
		s.DefaultUpdate = data.UpdatePolicy(policy)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT mod_id, update_policy, cached FROM installed_items ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	byID := map[uuid.UUID]*data.InstalledItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		byID[it.ModID] = it
		s.Items = append(s.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := r.db.QueryContext(ctx, `SELECT mod_id, details, location FROM installed_versions ORDER BY mod_id, position ASC`)
	if err != nil {
		return nil, err
	}
	for vrows.Next() {
		id, v, err := scanVersion(vrows)
		if err != nil {
			vrows.Close()
			return nil, err
		}
		if it, ok := byID[id]; ok {
			it.Versions = append(it.Versions, v)
		}
	}
	vrows.Close()
	if err := vrows.Err(); err != nil {
		return nil, err
	}

	items := s.Items[:0]
	for _, it := range s.Items {
		if len(it.Versions) > 0 {
			items = append(items, it)
		}
	}
	s.Items = items

	prows, err := r.db.QueryContext(ctx, `SELECT path FROM pending_deletes ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var p string
		if err := prows.Scan(&p); err != nil {
			return nil, err
		}
		s.PendingDelete = append(s.PendingDelete, p)
	}
	return s, prows.Err()
}

func (r *PostgresStore) SaveLibrary(ctx context.Context, s *LibrarySnapshot) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		// no-op once committed
		_ = tx.Rollback()
	}()

	for _, stmt := range []string{`DELETE FROM installed_versions`, `DELETE FROM installed_items`, `DELETE FROM pending_deletes`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO library_settings (key, value) VALUES ('default_update', $1)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, string(s.DefaultUpdate)); err != nil {
		return err
	}
	for i, it := range s.Items {
		cached, err := json.Marshal(it.Cached)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO installed_items (mod_id, position, update_policy, cached) VALUES ($1,$2,$3,$4)`,
			it.ModID, i, string(it.UpdatePolicy), string(cached)); err != nil {
			return err
		}
		for j, v := range it.Versions {
			details, err := json.Marshal(v.Version)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO installed_versions (mod_id, position, version, details, location) VALUES ($1,$2,$3,$4,$5)`,
				it.ModID, j, string(v.Version.Version), string(details), v.InstalledLocation); err != nil {
				return err
			}
		}
	}
	for i, p := range s.PendingDelete {
		if _, err := tx.ExecContext(ctx, `INSERT INTO pending_deletes (position, path) VALUES ($1,$2)`, i, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresStore) LoadProfile(ctx context.Context) (*data.Profile, error) {
	p := &data.Profile{Name: "default"}
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT items FROM profiles WHERE name=$1`, p.Name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	return p, json.Unmarshal([]byte(raw), &p.Items)
}

func (r *PostgresStore) SaveProfile(ctx context.Context, p *data.Profile) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return err
	}
	name := p.Name
	if name == "" {
		name = "default"
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO profiles (name, items, updated_at) VALUES ($1,$2,$3)
ON CONFLICT (name) DO UPDATE SET items = EXCLUDED.items, updated_at = EXCLUDED.updated_at`,
		name, string(items), time.Now().UTC())
	return err
}

// Helpers

type rowScanner interface{ Scan(dest ...any) error }

func scanItem(rs rowScanner) (*data.InstalledItem, error) {
	var (
		id             uuid.UUID
		policy, cached string
	)
	if err := rs.Scan(&id, &policy, &cached); err != nil {
		return nil, err
	}
	it := &data.InstalledItem{ModID: id, UpdatePolicy: data.UpdatePolicy(policy)}
	if err := json.Unmarshal([]byte(cached), &it.Cached); err != nil {
		return nil, err
	}
	return it, nil
}

func scanVersion(rs rowScanner) (uuid.UUID, *data.InstalledVersion, error) {
	var (
		id                uuid.UUID
		details, location string
	)
	if err := rs.Scan(&id, &details, &location); err != nil {
		return uuid.Nil, nil, err
	}
	v := &data.InstalledVersion{InstalledLocation: location}
	if err := json.Unmarshal([]byte(details), &v.Version); err != nil {
		return uuid.Nil, nil, err
	}
	return id, v, nil
}
