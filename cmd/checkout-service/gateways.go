package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fjod/go_checkout/internal/config"
	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/gateway"
	"github.com/fjod/go_checkout/internal/repository"
)

// catalogue is the on-disk description of the payment gateways a
// deployment offers. Credential values may reference environment
// variables as ${NAME}.
type catalogue struct {
	Gateways []catalogueEntry `yaml:"gateways"`
}

type catalogueEntry struct {
	domain.Gateway `yaml:",inline"`
	Configs        []domain.GatewayConfig `yaml:"configs"`
}

func gatewaysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateways",
		Short: "Manage the payment gateway catalogue",
	}

	var dryRun bool
	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update gateways and their credentials from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			entries, err := loadCatalogue(f, gateway.DefaultRegistry())
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if dryRun {
				for _, e := range entries {
					log.Printf("gateway %s: %d config(s) ok", e.Code, len(e.Configs))
				}
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			repo, err := repository.NewRepository(postgresCredentials(cfg))
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer repo.Close()

			return importCatalogue(cmd.Context(), repo, entries)
		},
	}
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")

	cmd.AddCommand(importCmd)
	return cmd
}

func loadCatalogue(r io.Reader, registry *gateway.Registry) ([]catalogueEntry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c catalogue
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	if len(c.Gateways) == 0 {
		return nil, errors.New("catalogue lists no gateways")
	}

	seen := make(map[string]bool)
	defaults := 0
	for i := range c.Gateways {
		e := &c.Gateways[i]
		e.Code = strings.ToLower(strings.TrimSpace(e.Code))
		if !registry.Supports(e.Code) {
			return nil, fmt.Errorf("gateway %q: no adapter registered (have %s)", e.Code, strings.Join(registry.Codes(), ", "))
		}
		if seen[e.Code] {
			return nil, fmt.Errorf("gateway %q listed twice", e.Code)
		}
		seen[e.Code] = true
		if e.Name == "" {
			e.Name = e.Code
		}
		if !validMode(e.Mode) {
			return nil, fmt.Errorf("gateway %q: mode must be test or live, got %q", e.Code, e.Mode)
		}
		if e.IsDefault {
			defaults++
		}

		modes := make(map[domain.GatewayMode]bool)
		for j := range e.Configs {
			gc := &e.Configs[j]
			if !validMode(gc.Mode) {
				return nil, fmt.Errorf("gateway %q config %d: mode must be test or live, got %q", e.Code, j, gc.Mode)
			}
			if modes[gc.Mode] {
				return nil, fmt.Errorf("gateway %q: %s config listed twice", e.Code, gc.Mode)
			}
			modes[gc.Mode] = true

			for k, v := range gc.Credentials {
				gc.Credentials[k] = os.ExpandEnv(v)
			}
			if !gc.Active {
				continue
			}
			if missing := registry.Missing(e.Code, gc.Credentials); len(missing) > 0 {
				return nil, fmt.Errorf("gateway %q %s config: missing %s", e.Code, gc.Mode, strings.Join(missing, ", "))
			}
		}
	}
	if defaults > 1 {
		return nil, fmt.Errorf("%d gateways marked is_default, at most one allowed", defaults)
	}
	return c.Gateways, nil
}

func validMode(m domain.GatewayMode) bool {
	return m == domain.GatewayModeTest || m == domain.GatewayModeLive
}

func importCatalogue(ctx context.Context, repo *repository.Repository, entries []catalogueEntry) error {
	return repo.WithTx(ctx, func(tx repository.Tx) error {
		for _, e := range entries {
			g := e.Gateway
			if err := tx.UpsertGateway(ctx, &g); err != nil {
				return err
			}
			for _, gc := range e.Configs {
				gc.GatewayID = g.ID
				if err := tx.UpsertGatewayConfig(ctx, &gc); err != nil {
					return fmt.Errorf("gateway %s: %w", g.Code, err)
				}
			}
			log.Printf("Imported gateway %s (id=%d, %d config(s))", g.Code, g.ID, len(e.Configs))
		}
		return nil
	})
}
