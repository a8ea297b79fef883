package main

import (
	"context"
	"flag"
	"log"
	"time"

	"vpn-subscription-store/internal/config"
	pg "vpn-subscription-store/internal/infra/db/postgres"
)

// Applies the database schema. Statements are idempotent so the command
// is safe to run on every deploy.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Fatalf("migrate: %v\nstatement:\n%s", err, stmt)
		}
	}
	log.Println("schema up to date")
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		telegram_id TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,

	`CREATE TABLE IF NOT EXISTS payments (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL REFERENCES users(id),
		plan_id         TEXT NOT NULL,
		provider        TEXT NOT NULL,
		amount          BIGINT NOT NULL,
		original_amount BIGINT NOT NULL,
		promocode       TEXT NOT NULL DEFAULT '',
		external_id     TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'pending',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_payments_external_id ON payments (external_id) WHERE external_id <> '';`,
	// serves both the stale-pending sweep and the amount+window matcher
	`CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments (status, created_at DESC);`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		plan_id    TEXT NOT NULL,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		vless_link TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	// one subscription per payment, enforced at the storage layer so
	// duplicate completion deliveries can never double-provision
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_subscriptions_payment_id ON subscriptions (payment_id);`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions (user_id, created_at DESC);`,

	`CREATE TABLE IF NOT EXISTS promocodes (
		id            TEXT PRIMARY KEY,
		code          TEXT NOT NULL UNIQUE,
		discount_type TEXT NOT NULL,
		value         BIGINT NOT NULL,
		min_amount    BIGINT NOT NULL DEFAULT 0,
		max_uses      INT NOT NULL DEFAULT 0,
		current_uses  INT NOT NULL DEFAULT 0,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at    TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,

	`CREATE TABLE IF NOT EXISTS plan_settings (
		plan_id    TEXT PRIMARY KEY,
		price      BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
}
