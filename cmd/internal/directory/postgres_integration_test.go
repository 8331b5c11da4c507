package directory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Enabled when PICKED_DATABASE_URL is set.
func TestPostgres_Reader(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("PICKED_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PICKED_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	b := make([]byte, 8)
	_, _ = rand.Read(b)
	schema := "picked_dir_" + hex.EncodeToString(b)
	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	d, err := NewPostgres(pool, schema)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	if err := d.ApplySchema(ctx); err != nil {
		t.Fatalf("ApplySchema: %v", err)
	}

	for _, p := range []Profile{
		{ProfileSummary: ProfileSummary{ID: "ana", FullName: "Ana Ruiz", Role: "player", Country: "Spain"}, Email: "ana@example.com"},
		{ProfileSummary: ProfileSummary{ID: "demo", FullName: "Demo", IsSeed: true}},
	} {
		if err := d.Upsert(ctx, p); err != nil {
			t.Fatalf("Upsert(%s): %v", p.ID, err)
		}
	}

	p, err := d.Get(ctx, "ana")
	if err != nil || p == nil || p.Subtitle() != "player · Spain" {
		t.Fatalf("Get(ana)=%+v err=%v", p, err)
	}
	if p, err := d.Get(ctx, "ghost"); err != nil || p != nil {
		t.Fatalf("Get(ghost)=%+v err=%v", p, err)
	}

	many, err := d.GetMany(ctx, []string{"ana", "demo", "ghost"})
	if err != nil || len(many) != 2 || !many["demo"].IsSeed {
		t.Fatalf("GetMany=%+v err=%v", many, err)
	}

	if e, err := d.Email(ctx, "demo"); err != nil || e != "" {
		t.Fatalf("Email(demo)=%q err=%v", e, err)
	}
	if e, err := d.Email(ctx, "ana"); err != nil || e != "ana@example.com" {
		t.Fatalf("Email(ana)=%q err=%v", e, err)
	}

	if _, err := NewPostgres(pool, "bad;schema"); err == nil {
		t.Fatalf("expected invalid schema error")
	}
}
