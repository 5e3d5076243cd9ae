package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fjod/go_checkout/internal/domain"
)

type GatewayStore interface {
	GetGateway(ctx context.Context, id int64) (*domain.Gateway, error)
	GetGatewayByCode(ctx context.Context, code string) (*domain.Gateway, error)
	GetGatewayConfig(ctx context.Context, gatewayID int64, mode domain.GatewayMode) (*domain.GatewayConfig, error)
}

// Resolver turns a gateway record plus its stored configuration into a ready adapter.
type Resolver struct {
	store       GatewayStore
	registry    *Registry
	client      *Client
	defaultMode domain.GatewayMode
}

func NewResolver(store GatewayStore, registry *Registry, client *Client, defaultMode domain.GatewayMode) *Resolver {
	return &Resolver{store: store, registry: registry, client: client, defaultMode: defaultMode}
}

// ForPayment resolves the adapter for a payment's gateway. An empty
// override falls back to the gateway's own mode, then the deployment default.
func (r *Resolver) ForPayment(ctx context.Context, p *domain.Payment, override domain.GatewayMode) (Adapter, error) {
	if p.PaymentGatewayID == 0 {
		return nil, &ConfigError{Status: http.StatusBadRequest, Message: "payment has no payment gateway"}
	}
	g, err := r.store.GetGateway(ctx, p.PaymentGatewayID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &ConfigError{Status: http.StatusBadRequest, Message: fmt.Sprintf("payment gateway %d does not exist", p.PaymentGatewayID)}
	}
	if err != nil {
		return nil, err
	}
	return r.ForGateway(ctx, g, override)
}

func (r *Resolver) ForCode(ctx context.Context, code string, override domain.GatewayMode) (Adapter, error) {
	g, err := r.store.GetGatewayByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, code)
	}
	if err != nil {
		return nil, err
	}
	return r.ForGateway(ctx, g, override)
}

func (r *Resolver) ForGateway(ctx context.Context, g *domain.Gateway, override domain.GatewayMode) (Adapter, error) {
	if !g.Enabled {
		return nil, &ConfigError{Status: http.StatusForbidden, Message: fmt.Sprintf("payment gateway %s is disabled", g.Code)}
	}

	mode := r.Mode(g, override)
	cfg, err := r.store.GetGatewayConfig(ctx, g.ID, mode)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Active {
		return nil, &ConfigError{Status: http.StatusInternalServerError, Message: fmt.Sprintf("payment gateway %s has no active %s configuration", g.Code, mode)}
	}
	if len(cfg.Credentials) == 0 {
		return nil, &ConfigError{Status: http.StatusInternalServerError, Message: fmt.Sprintf("payment gateway %s has empty %s credentials", g.Code, mode)}
	}

	reg, ok := r.registry.entries[g.Code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, g.Code)
	}
	if missing := r.registry.Missing(g.Code, cfg.Credentials); len(missing) > 0 {
		return nil, &ConfigError{
			Status:  http.StatusInternalServerError,
			Message: fmt.Sprintf("payment gateway %s %s credentials incomplete", g.Code, mode),
			Missing: missing,
		}
	}

	return reg.factory(cfg.Credentials, r.client), nil
}

func (r *Resolver) Mode(g *domain.Gateway, override domain.GatewayMode) domain.GatewayMode {
	switch {
	case override != "":
		return override
	case g.Mode != "":
		return g.Mode
	default:
		return r.defaultMode
	}
}
