package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/fjod/go_checkout/internal/cart"
	"github.com/fjod/go_checkout/internal/cart/cache"
	cartrepo "github.com/fjod/go_checkout/internal/cart/repository"
	"github.com/fjod/go_checkout/internal/checkout"
	"github.com/fjod/go_checkout/internal/config"
	"github.com/fjod/go_checkout/internal/consumer"
	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/gateway"
	"github.com/fjod/go_checkout/internal/geo"
	httpapi "github.com/fjod/go_checkout/internal/http"
	"github.com/fjod/go_checkout/internal/payment"
	"github.com/fjod/go_checkout/internal/publisher"
	"github.com/fjod/go_checkout/internal/repository"
	"github.com/fjod/go_checkout/pkg/logger"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the ops gRPC endpoint, the outbox poller and the event consumers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply database migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	lg := logger.New(logger.Options{Service: serviceName, Env: cfg.Env, Level: cfg.LogLevel})

	if migrate {
		if err := runMigrations(cfg); err != nil {
			return err
		}
	}

	repo, err := repository.NewRepository(postgresCredentials(cfg))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer repo.Close()
	log.Printf("Connected to Postgres at %s:%d", cfg.Postgres.Host, cfg.Postgres.Port)

	geoRepo, err := geo.NewRepository(cfg.GeoDBPath)
	if err != nil {
		return fmt.Errorf("open geo database: %w", err)
	}
	defer geoRepo.Close()

	mongoDB, err := cartrepo.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return err
	}
	defer func() {
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()
	log.Printf("Connected to MongoDB: %s", cfg.MongoDatabase)

	carts := cartrepo.NewMongoRepository(mongoDB)
	if err := cartrepo.EnsureIndexes(ctx, carts); err != nil {
		return fmt.Errorf("create cart indexes: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Printf("Connected to Redis at %s", cfg.RedisAddr)

	cartService := cart.NewService(carts, cache.NewRedisCache(redisClient), lg)

	mode := domain.GatewayMode(cfg.DefaultGatewayMode)
	resolver := gateway.NewResolver(repo, gateway.DefaultRegistry(), gateway.NewClient(cfg.GatewayTimeout, lg), mode)

	checkoutService := checkout.NewService(checkout.Deps{
		Carts:    cartService,
		Coupons:  repo,
		Gateways: repo,
		Geo:      geoRepo,
		Sessions: repo,
		Tx:       repo,
	}, checkout.Options{
		Currency:       cfg.DefaultCurrency,
		DefaultMode:    mode,
		MinOrderAmount: cfg.MinOrderAmount,
		MaxOrderAmount: cfg.MaxOrderAmount,
	}, lg)

	payments := payment.NewService(repo, resolver, payment.NewReconciler(repo, lg), cfg.GatewayTimeout, lg)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Carts:    cartService,
		Checkout: checkoutService,
		Payments: payments,
		Orders:   repo,
		Ready: []httpapi.Pinger{
			repo,
			pingFunc(func(ctx context.Context) error { return mongoDB.Client().Ping(ctx, nil) }),
			pingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
		PublicURL:      cfg.PublicURL,
		RequestTimeout: cfg.RequestTimeout,
		Log:            lg,
	})
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: otelhttp.NewHandler(router, serviceName),
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port %s: %w", cfg.GRPCPort, err)
	}

	poller := publisher.NewOutboxPoller(repo, cfg.OutboxPollInterval,
		publisher.Recovery{Interval: cfg.RecoveryInterval, Grace: cfg.RecoveryGrace}, lg, cfg.KafkaBrokers...)
	consumers := []*consumer.Consumer{
		consumer.NewConsumer("payment-verified", domain.TopicPaymentEvents, cfg.KafkaGroupID,
			consumer.NewPaymentVerified(repo, lg).Handle, lg, cfg.KafkaBrokers...),
		consumer.NewConsumer("inventory", domain.TopicOrderEvents, cfg.KafkaGroupID,
			consumer.NewInventory(repo, lg).Handle, lg, cfg.KafkaBrokers...),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("HTTP server listening on :%s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		log.Printf("gRPC server listening on :%s", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})
	for _, c := range consumers {
		g.Go(func() error {
			c.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down checkout service...")
		shutdown(cfg, lg, httpServer, grpcServer, healthServer)

		if err := poller.Close(); err != nil {
			lg.Error("close outbox writer", "error", err)
		}
		for _, c := range consumers {
			if err := c.Close(); err != nil {
				lg.Error("close consumer", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("Checkout service stopped")
	return nil
}

func shutdown(cfg *config.Config, lg *slog.Logger, httpServer *http.Server, grpcServer *grpc.Server, healthServer *health.Server) {
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		lg.Error("http shutdown", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		grpcServer.Stop()
	}
}
