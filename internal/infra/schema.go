package infra

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the complete DDL for the platform. Statements are idempotent so
// EnsureSchema can run on every boot.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id            UUID PRIMARY KEY,
    name          TEXT NOT NULL,
    email         TEXT NOT NULL UNIQUE,
    password_hash BYTEA NOT NULL,
    referral_code TEXT NOT NULL UNIQUE,
    referred_by   TEXT,
    is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
    is_banned     BOOLEAN NOT NULL DEFAULT FALSE,
    kyc_status    TEXT NOT NULL DEFAULT 'not_started',
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_referred_by ON users (referred_by);

CREATE TABLE IF NOT EXISTS pricing_configs (
    version                  BIGSERIAL PRIMARY KEY,
    tier1_capacity           BIGINT NOT NULL,
    tier1_price_fiat         BIGINT NOT NULL,
    tier1_price_stable       BIGINT NOT NULL,
    tier2_capacity           BIGINT NOT NULL,
    tier2_price_fiat         BIGINT NOT NULL,
    tier2_price_stable       BIGINT NOT NULL,
    tier3_capacity           BIGINT NOT NULL,
    tier3_price_fiat         BIGINT NOT NULL,
    tier3_price_stable       BIGINT NOT NULL,
    cofounder_total          BIGINT NOT NULL,
    cofounder_price_fiat     BIGINT NOT NULL,
    cofounder_price_stable   BIGINT NOT NULL,
    cofounder_ratio          BIGINT NOT NULL,
    rate_gen1                BIGINT NOT NULL,
    rate_gen2                BIGINT NOT NULL,
    rate_gen3                BIGINT NOT NULL,
    withdrawal_enabled       BOOLEAN NOT NULL,
    withdrawal_minimum       BIGINT NOT NULL,
    withdrawal_daily_cap     INT NOT NULL,
    withdrawal_fee_percent   BIGINT NOT NULL,
    late_fee_percent         BIGINT NOT NULL,
    late_fee_cap_percent     BIGINT NOT NULL,
    installment_min_months   INT NOT NULL,
    installment_max_months   INT NOT NULL,
    installment_min_down_pct BIGINT NOT NULL,
    installment_grace_days   INT NOT NULL,
    updated_by               UUID,
    created_at               TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id                UUID PRIMARY KEY,
    seq               BIGSERIAL UNIQUE,
    kind              TEXT NOT NULL,
    status            TEXT NOT NULL,
    actor_user        UUID NOT NULL,
    counterparty_user UUID,
    amount            BIGINT NOT NULL,
    currency          TEXT NOT NULL,
    reference         TEXT NOT NULL,
    parent_entry      UUID,
    metadata          JSONB NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ NOT NULL,
    completed_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_ledger_actor_kind_time ON ledger_entries (actor_user, kind, created_at);
CREATE INDEX IF NOT EXISTS idx_ledger_parent ON ledger_entries (parent_entry);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_kind_reference ON ledger_entries (kind, reference);

CREATE TABLE IF NOT EXISTS share_inventory (
    id             SMALLINT PRIMARY KEY,
    sold_tier1     BIGINT NOT NULL DEFAULT 0,
    sold_tier2     BIGINT NOT NULL DEFAULT 0,
    sold_tier3     BIGINT NOT NULL DEFAULT 0,
    sold_cofounder BIGINT NOT NULL DEFAULT 0
);
INSERT INTO share_inventory (id) VALUES (1) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS holdings (
    user_id          UUID PRIMARY KEY,
    regular_total    BIGINT NOT NULL DEFAULT 0,
    cofounder_total  BIGINT NOT NULL DEFAULT 0,
    listed_regular   BIGINT NOT NULL DEFAULT 0,
    listed_cofounder BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS holding_records (
    id             UUID PRIMARY KEY,
    user_id        UUID NOT NULL,
    entry_id       UUID NOT NULL,
    share_kind     TEXT NOT NULL,
    shares         BIGINT NOT NULL,
    tier1          BIGINT NOT NULL DEFAULT 0,
    tier2          BIGINT NOT NULL DEFAULT 0,
    tier3          BIGINT NOT NULL DEFAULT 0,
    price_per_share BIGINT NOT NULL,
    currency       TEXT NOT NULL,
    amount         BIGINT NOT NULL,
    status         TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_holding_records_user ON holding_records (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_holding_records_entry ON holding_records (entry_id);

CREATE TABLE IF NOT EXISTS installment_plans (
    id               UUID PRIMARY KEY,
    user_id          UUID NOT NULL,
    share_kind       TEXT NOT NULL,
    total_shares     BIGINT NOT NULL,
    total_price      BIGINT NOT NULL,
    currency         TEXT NOT NULL,
    months           INT NOT NULL,
    min_down         BIGINT NOT NULL,
    state            TEXT NOT NULL,
    tier1            BIGINT NOT NULL DEFAULT 0,
    tier2            BIGINT NOT NULL DEFAULT 0,
    tier3            BIGINT NOT NULL DEFAULT 0,
    paid_amount      BIGINT NOT NULL DEFAULT 0,
    released_shares  BIGINT NOT NULL DEFAULT 0,
    released_tier1   BIGINT NOT NULL DEFAULT 0,
    released_tier2   BIGINT NOT NULL DEFAULT 0,
    released_tier3   BIGINT NOT NULL DEFAULT 0,
    late_fee_accrued BIGINT NOT NULL DEFAULT 0,
    months_late      INT NOT NULL DEFAULT 0,
    config_version   BIGINT NOT NULL DEFAULT 0,
    cancel_reason    TEXT,
    last_payment_at  TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plans_user_state ON installment_plans (user_id, state);

CREATE TABLE IF NOT EXISTS installment_items (
    plan_id        UUID NOT NULL,
    idx            INT NOT NULL,
    due_date       TIMESTAMPTZ NOT NULL,
    nominal_amount BIGINT NOT NULL,
    paid_amount    BIGINT NOT NULL DEFAULT 0,
    paid_at        TIMESTAMPTZ,
    status         TEXT NOT NULL,
    external_ref   TEXT,
    is_first       BOOLEAN NOT NULL DEFAULT FALSE,
    force_approved BOOLEAN NOT NULL DEFAULT FALSE,
    method         TEXT,
    proof_handle   TEXT,
    tx_hash        TEXT,
    PRIMARY KEY (plan_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_items_external_ref ON installment_items (external_ref);

CREATE TABLE IF NOT EXISTS referral_commissions (
    id              UUID PRIMARY KEY,
    beneficiary     UUID NOT NULL,
    referred_user   UUID NOT NULL,
    generation      INT NOT NULL,
    purchase_type   TEXT NOT NULL,
    source_entry_id UUID NOT NULL,
    source_model    TEXT NOT NULL,
    amount          BIGINT NOT NULL,
    currency        TEXT NOT NULL,
    status          TEXT NOT NULL,
    rate_used       BIGINT NOT NULL,
    base_amount     BIGINT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    rolled_back_at  TIMESTAMPTZ,
    rollback_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_commissions_source ON referral_commissions (source_entry_id);
CREATE INDEX IF NOT EXISTS idx_commissions_beneficiary ON referral_commissions (beneficiary, status);
CREATE INDEX IF NOT EXISTS idx_commissions_key ON referral_commissions (beneficiary, referred_user, generation, source_entry_id, source_model);

CREATE TABLE IF NOT EXISTS referral_stats (
    user_id       UUID PRIMARY KEY,
    gen1_count    BIGINT NOT NULL DEFAULT 0,
    gen1_earnings BIGINT NOT NULL DEFAULT 0,
    gen2_count    BIGINT NOT NULL DEFAULT 0,
    gen2_earnings BIGINT NOT NULL DEFAULT 0,
    gen3_count    BIGINT NOT NULL DEFAULT 0,
    gen3_earnings BIGINT NOT NULL DEFAULT 0,
    total_earnings BIGINT NOT NULL DEFAULT 0,
    updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
    id               UUID PRIMARY KEY,
    seller           UUID NOT NULL,
    share_kind       TEXT NOT NULL,
    shares_offered   BIGINT NOT NULL,
    shares_available BIGINT NOT NULL,
    price_per_share  BIGINT NOT NULL,
    currency         TEXT NOT NULL,
    expires_at       TIMESTAMPTZ,
    status           TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings (status);
CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings (seller);

CREATE TABLE IF NOT EXISTS offers (
    id           UUID PRIMARY KEY,
    listing_id   UUID NOT NULL,
    buyer        UUID NOT NULL,
    seller       UUID NOT NULL,
    shares       BIGINT NOT NULL,
    total        BIGINT NOT NULL,
    currency     TEXT NOT NULL,
    status       TEXT NOT NULL,
    external_ref TEXT,
    method       TEXT,
    tx_hash      TEXT,
    reason       TEXT,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_offers_listing ON offers (listing_id, status);
CREATE INDEX IF NOT EXISTS idx_offers_buyer ON offers (buyer);
CREATE INDEX IF NOT EXISTS idx_offers_status_updated ON offers (status, updated_at);

CREATE TABLE IF NOT EXISTS withdrawal_requests (
    id           UUID PRIMARY KEY,
    user_id      UUID NOT NULL,
    amount       BIGINT NOT NULL,
    fee          BIGINT NOT NULL,
    method       TEXT NOT NULL,
    destination  TEXT NOT NULL,
    status       TEXT NOT NULL,
    provider_ref TEXT,
    fail_reason  TEXT,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_withdrawals_user_status ON withdrawal_requests (user_id, status);
CREATE INDEX IF NOT EXISTS idx_withdrawals_user_created ON withdrawal_requests (user_id, created_at);

CREATE TABLE IF NOT EXISTS withdrawal_restrictions (
    id            UUID PRIMARY KEY,
    user_id       UUID NOT NULL,
    is_restricted BOOLEAN NOT NULL,
    scope         TEXT NOT NULL,
    starts_at     TIMESTAMPTZ,
    ends_at       TIMESTAMPTZ,
    reason        TEXT,
    created_by    UUID,
    created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_restrictions_user ON withdrawal_restrictions (user_id);

CREATE TABLE IF NOT EXISTS audit_entries (
    id            UUID PRIMARY KEY,
    admin_id      UUID NOT NULL,
    action        TEXT NOT NULL,
    target_user   UUID,
    target_entity TEXT,
    before        JSONB,
    after         JSONB,
    ip            TEXT,
    user_agent    TEXT,
    created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_admin ON audit_entries (admin_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_entries (target_user, created_at);
`

// EnsureSchema applies the embedded DDL. Safe to run concurrently with other
// replicas because every statement is IF NOT EXISTS / ON CONFLICT guarded.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
