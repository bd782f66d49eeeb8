package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/assetgate/pkg/models"
)

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Policies ---

func (p *PostgresBackend) WritePolicy(ctx context.Context, policy *models.Policy) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO policies (asset_id, op_type, active, max_amount, daily_limit, cooldown_seconds,
		                       activation_time, expiration_time, requires_whitelist, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		 ON CONFLICT (asset_id, op_type) DO UPDATE
		 SET active = EXCLUDED.active,
		     max_amount = EXCLUDED.max_amount,
		     daily_limit = EXCLUDED.daily_limit,
		     cooldown_seconds = EXCLUDED.cooldown_seconds,
		     activation_time = EXCLUDED.activation_time,
		     expiration_time = EXCLUDED.expiration_time,
		     requires_whitelist = EXCLUDED.requires_whitelist,
		     updated_at = NOW()`,
		policy.AssetID, policy.OpType, policy.Active,
		int64(policy.MaxAmount), int64(policy.DailyLimit), int64(policy.CooldownSeconds),
		policy.ActivationTime, policy.ExpirationTime, policy.RequiresWhitelist,
	)
	return err
}

func (p *PostgresBackend) GetPolicy(ctx context.Context, assetID, opType string) (*models.Policy, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT asset_id, op_type, active, max_amount, daily_limit, cooldown_seconds,
		        activation_time, expiration_time, requires_whitelist, created_at, updated_at
		 FROM policies WHERE asset_id = $1 AND op_type = $2`,
		assetID, opType,
	)
	return scanPolicy(row)
}

func scanPolicy(row pgx.Row) (*models.Policy, error) {
	var pol models.Policy
	var maxAmount, dailyLimit, cooldown int64
	err := row.Scan(&pol.AssetID, &pol.OpType, &pol.Active, &maxAmount, &dailyLimit, &cooldown,
		&pol.ActivationTime, &pol.ExpirationTime, &pol.RequiresWhitelist, &pol.CreatedAt, &pol.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pol.MaxAmount = uint64(maxAmount)
	pol.DailyLimit = uint64(dailyLimit)
	pol.CooldownSeconds = uint64(cooldown)
	return &pol, nil
}

func (p *PostgresBackend) ListPolicies(ctx context.Context, assetID string) ([]*models.Policy, error) {
	query := `SELECT asset_id, op_type, active, max_amount, daily_limit, cooldown_seconds,
	                 activation_time, expiration_time, requires_whitelist, created_at, updated_at
	          FROM policies`
	args := []any{}
	if assetID != "" {
		query += ` WHERE asset_id = $1`
		args = append(args, assetID)
	}
	query += ` ORDER BY asset_id, op_type`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Policy
	for rows.Next() {
		pol, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pol)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) CountPolicies(ctx context.Context) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM policies`).Scan(&n)
	return n, err
}

// --- Whitelist ---

func (p *PostgresBackend) AddWhitelistMember(ctx context.Context, assetID, opType string, id models.AccountID) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO whitelist_members (asset_id, op_type, account_id, added_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (asset_id, op_type, account_id) DO NOTHING`,
		assetID, opType, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *PostgresBackend) RemoveWhitelistMember(ctx context.Context, assetID, opType string, id models.AccountID) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM whitelist_members WHERE asset_id = $1 AND op_type = $2 AND account_id = $3`,
		assetID, opType, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) IsWhitelisted(ctx context.Context, assetID, opType string, id models.AccountID) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM whitelist_members WHERE asset_id = $1 AND op_type = $2 AND account_id = $3)`,
		assetID, opType, string(id),
	).Scan(&exists)
	return exists, err
}

func (p *PostgresBackend) ListWhitelist(ctx context.Context, assetID, opType string) ([]models.AccountID, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT account_id FROM whitelist_members WHERE asset_id = $1 AND op_type = $2`,
		assetID, opType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []models.AccountID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, models.AccountID(id))
	}
	return members, rows.Err()
}

// --- Usage ---

func (p *PostgresBackend) GetUsage(ctx context.Context, assetID, opType string, principal models.AccountID) (*models.UsageRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT asset_id, op_type, principal, day_index, daily_total, last_operation_time
		 FROM usage_records WHERE asset_id = $1 AND op_type = $2 AND principal = $3`,
		assetID, opType, string(principal),
	)
	var rec models.UsageRecord
	var total int64
	err := row.Scan(&rec.AssetID, &rec.OpType, &rec.Principal, &rec.DayIndex, &total, &rec.LastOperationTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.DailyTotal = uint64(total)
	return &rec, nil
}

func (p *PostgresBackend) PutUsage(ctx context.Context, rec *models.UsageRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO usage_records (asset_id, op_type, principal, day_index, daily_total, last_operation_time)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (asset_id, op_type, principal) DO UPDATE
		 SET day_index = EXCLUDED.day_index,
		     daily_total = EXCLUDED.daily_total,
		     last_operation_time = EXCLUDED.last_operation_time`,
		rec.AssetID, rec.OpType, string(rec.Principal),
		rec.DayIndex, int64(rec.DailyTotal), rec.LastOperationTime,
	)
	return err
}

// --- Events ---

func (p *PostgresBackend) WriteEvent(ctx context.Context, event *models.Event) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO audit_events (request_id, event_type, asset_id, op_type, principal, target,
		                           amount, approved, reason, engine_time, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.RequestID, event.Type, event.AssetID, event.OpType,
		string(event.Principal), string(event.Target),
		int64(event.Amount), event.Approved, event.Reason, event.Timestamp, event.OccurredAt,
	)
	return err
}

func (p *PostgresBackend) QueryEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, request_id, event_type, asset_id, op_type, principal, target,
	                          amount, approved, reason, engine_time, occurred_at
	                   FROM audit_events WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.AssetID != "" {
		fmt.Fprintf(&query, ` AND asset_id = $%d`, n)
		args = append(args, filter.AssetID)
		n++
	}
	if filter.OpType != "" {
		fmt.Fprintf(&query, ` AND op_type = $%d`, n)
		args = append(args, filter.OpType)
		n++
	}
	if filter.Type != "" {
		fmt.Fprintf(&query, ` AND event_type = $%d`, n)
		args = append(args, filter.Type)
		n++
	}
	if filter.Principal != models.NilAccount {
		fmt.Fprintf(&query, ` AND principal = $%d`, n)
		args = append(args, string(filter.Principal))
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND occurred_at >= $%d`, n)
		args = append(args, filter.Since)
		n++
	}
	query.WriteString(` ORDER BY occurred_at DESC, id DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var principal, target string
		var amount int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Type, &e.AssetID, &e.OpType,
			&principal, &target, &amount, &e.Approved, &e.Reason, &e.Timestamp, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Principal = models.AccountID(principal)
		e.Target = models.AccountID(target)
		e.Amount = uint64(amount)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- Tokens ---

func (p *PostgresBackend) WriteToken(ctx context.Context, token *models.Token, tokenHash string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tokens (id, token_hash, display_name, capabilities, ttl_seconds, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET display_name = EXCLUDED.display_name,
		     capabilities = EXCLUDED.capabilities,
		     ttl_seconds = EXCLUDED.ttl_seconds,
		     expires_at = EXCLUDED.expires_at`,
		token.ID, tokenHash, token.DisplayName, token.Capabilities,
		int64(token.TTL.Seconds()), token.CreatedAt, nullableTime(token.ExpiresAt),
	)
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *PostgresBackend) GetToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, display_name, capabilities, ttl_seconds, created_at, expires_at, revoked_at
		 FROM tokens WHERE token_hash = $1`,
		tokenHash,
	)
	var t models.Token
	var ttlSec int64
	var expiresAt *time.Time
	err := row.Scan(&t.ID, &t.DisplayName, &t.Capabilities, &ttlSec, &t.CreatedAt, &expiresAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.TTL = time.Duration(ttlSec) * time.Second
	if expiresAt != nil {
		t.ExpiresAt = *expiresAt
	}
	return &t, nil
}

func (p *PostgresBackend) RevokeToken(ctx context.Context, tokenID string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE tokens SET revoked_at = NOW() WHERE id = $1`,
		tokenID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) CountActiveTokens(ctx context.Context) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tokens
		 WHERE revoked_at IS NULL AND (expires_at IS NULL OR expires_at > NOW())`,
	).Scan(&n)
	return n, err
}
