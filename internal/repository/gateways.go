package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_checkout/internal/domain"
)

const gatewayColumns = `id, code, name, enabled, is_default, mode`

func (q *Queries) GetGateway(ctx context.Context, id int64) (*domain.Gateway, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+gatewayColumns+` FROM payment_gateways WHERE id = $1`, id)
	return scanGateway(row)
}

func (q *Queries) GetGatewayByCode(ctx context.Context, code string) (*domain.Gateway, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+gatewayColumns+` FROM payment_gateways WHERE code = $1`, code)
	return scanGateway(row)
}

func (q *Queries) FindEnabledGateway(ctx context.Context, id int64) (*domain.Gateway, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+gatewayColumns+` FROM payment_gateways WHERE id = $1 AND enabled`, id)
	return scanGateway(row)
}

// FindEnabledDefaultGateway returns nil, nil when no enabled default exists.
func (q *Queries) FindEnabledDefaultGateway(ctx context.Context) (*domain.Gateway, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+gatewayColumns+` FROM payment_gateways WHERE enabled AND is_default ORDER BY id LIMIT 1`)
	g, err := scanGateway(row)
	if errors.Is(err, ErrGatewayNotFound) {
		return nil, nil
	}
	return g, err
}

// GetGatewayConfig returns nil, nil when the gateway has no configuration row for mode.
func (q *Queries) GetGatewayConfig(ctx context.Context, gatewayID int64, mode domain.GatewayMode) (*domain.GatewayConfig, error) {
	var c domain.GatewayConfig
	var creds []byte

	err := q.q.QueryRowContext(ctx,
		`SELECT id, gateway_id, mode, credentials, active FROM payment_gateway_configs WHERE gateway_id = $1 AND mode = $2`,
		gatewayID, mode,
	).Scan(&c.ID, &c.GatewayID, &c.Mode, &creds, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query gateway config: %w", err)
	}
	if err := json.Unmarshal(creds, &c.Credentials); err != nil {
		return nil, fmt.Errorf("unmarshal gateway credentials: %w", err)
	}
	return &c, nil
}

// UpsertGateway inserts or updates a gateway by code.
func (q *Queries) UpsertGateway(ctx context.Context, g *domain.Gateway) error {
	query := `INSERT INTO payment_gateways (code, name, enabled, is_default, mode)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, enabled = EXCLUDED.enabled,
	              is_default = EXCLUDED.is_default, mode = EXCLUDED.mode
	          RETURNING id`

	if err := q.q.QueryRowContext(ctx, query, g.Code, g.Name, g.Enabled, g.IsDefault, g.Mode).Scan(&g.ID); err != nil {
		return fmt.Errorf("upsert gateway %s: %w", g.Code, err)
	}
	return nil
}

func (q *Queries) UpsertGatewayConfig(ctx context.Context, c *domain.GatewayConfig) error {
	creds, err := marshalMap(c.Credentials)
	if err != nil {
		return fmt.Errorf("marshal gateway credentials: %w", err)
	}

	query := `INSERT INTO payment_gateway_configs (gateway_id, mode, credentials, active)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (gateway_id, mode) DO UPDATE SET credentials = EXCLUDED.credentials, active = EXCLUDED.active
	          RETURNING id`

	if err := q.q.QueryRowContext(ctx, query, c.GatewayID, c.Mode, creds, c.Active).Scan(&c.ID); err != nil {
		return fmt.Errorf("upsert gateway config: %w", err)
	}
	return nil
}

func scanGateway(row *sql.Row) (*domain.Gateway, error) {
	var g domain.Gateway
	err := row.Scan(&g.ID, &g.Code, &g.Name, &g.Enabled, &g.IsDefault, &g.Mode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGatewayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan gateway: %w", err)
	}
	return &g, nil
}
