package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const profilesDDL = `
CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  full_name  TEXT NULL,
  role       TEXT NULL,
  avatar_url TEXT NULL,
  country    TEXT NULL,
  city       TEXT NULL,
  email      TEXT NULL,
  is_seed    BOOLEAN NOT NULL DEFAULT false
)`

const profileColumns = `id, COALESCE(full_name, ''), COALESCE(role, ''), COALESCE(avatar_url, ''),
       COALESCE(country, ''), COALESCE(city, ''), is_seed`

// Postgres reads profiles from <schema>.profiles. The pool is owned by the caller.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgres constructs a Reader over schema.profiles.
func NewPostgres(pool *pgxpool.Pool, schema string) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("directory: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if !identRE.MatchString(schema) {
		return nil, errors.New("directory: invalid schema identifier")
	}
	return &Postgres{pool: pool, table: pgx.Identifier{schema, "profiles"}.Sanitize()}, nil
}

// ApplySchema creates the profiles table when it is missing.
func (d *Postgres) ApplySchema(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, fmt.Sprintf(profilesDDL, d.table)); err != nil {
		return fmt.Errorf("apply profiles schema: %w", err)
	}
	return nil
}

// Upsert writes p. Used by seeding and tests.
func (d *Postgres) Upsert(ctx context.Context, p Profile) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO `+d.table+` (id, full_name, role, avatar_url, country, city, email, is_seed)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)
		 ON CONFLICT (id) DO UPDATE
		    SET full_name = EXCLUDED.full_name,
		        role = EXCLUDED.role,
		        avatar_url = EXCLUDED.avatar_url,
		        country = EXCLUDED.country,
		        city = EXCLUDED.city,
		        email = EXCLUDED.email,
		        is_seed = EXCLUDED.is_seed`,
		p.ID, p.FullName, p.Role, p.AvatarURL, p.Country, p.City, p.Email, p.IsSeed,
	)
	return err
}

func (d *Postgres) Get(ctx context.Context, id string) (*ProfileSummary, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM `+d.table+` WHERE id = $1`, id)
	p, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *Postgres) GetMany(ctx context.Context, ids []string) (map[string]ProfileSummary, error) {
	out := make(map[string]ProfileSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := d.pool.Query(ctx, `SELECT `+profileColumns+` FROM `+d.table+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (d *Postgres) Email(ctx context.Context, id string) (string, error) {
	var email string
	err := d.pool.QueryRow(ctx, `SELECT COALESCE(email, '') FROM `+d.table+` WHERE id = $1`, id).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return email, err
}

func scanSummary(row pgx.Row) (ProfileSummary, error) {
	var p ProfileSummary
	err := row.Scan(&p.ID, &p.FullName, &p.Role, &p.AvatarURL, &p.Country, &p.City, &p.IsSeed)
	return p, err
}
