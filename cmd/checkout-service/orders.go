package main

import (
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fjod/go_checkout/internal/config"
	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/repository"
)

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and move orders through fulfilment",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "advance <order-id> <status>",
		Short: "Move an order to the next lifecycle status (processing, dispatched, delivered, completed)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, next, err := parseAdvanceArgs(args)
			if err != nil {
				return err
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

			if err := repo.AdvanceOrderStatus(cmd.Context(), id, next); err != nil {
				return err
			}
			log.Printf("Order %d is now %s", id, next)
			return nil
		},
	})
	return cmd
}

// parseAdvanceArgs rejects paid as a target: only payment verification
// moves an order out of pending.
func parseAdvanceArgs(args []string) (int64, domain.OrderStatus, error) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("invalid order id %q", args[0])
	}

	next := domain.OrderStatus(args[1])
	switch next {
	case domain.OrderStatusProcessing, domain.OrderStatusDispatched, domain.OrderStatusDelivered, domain.OrderStatusCompleted:
		return id, next, nil
	default:
		return 0, "", fmt.Errorf("invalid target status %q", args[1])
	}
}
