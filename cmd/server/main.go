package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	"edgefleet.c2/internal/adapters/flowlocation"
	grpc_handler "edgefleet.c2/internal/adapters/handler/grpc"
	http_handler "edgefleet.c2/internal/adapters/handler/http"
	"edgefleet.c2/internal/adapters/handler/mqtt"
	redis_adapter "edgefleet.c2/internal/adapters/queue/redis"
	"edgefleet.c2/internal/adapters/repository/memory"
	"edgefleet.c2/internal/adapters/repository/pg"
	"edgefleet.c2/internal/config"
	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/core/ports"
	"edgefleet.c2/internal/core/services"
	"edgefleet.c2/internal/core/tracing"
)

const version = "0.1.0"

// fleetStore is the durable fleet model; both repository adapters satisfy it.
type fleetStore interface {
	ports.DeviceRepository
	ports.AgentRepository
	ports.AgentManifestRepository
	ports.AgentClassRepository
	ports.FlowMappingRepository
	ports.OperationRepository
}

type eventBus interface {
	ports.EventPublisher
	ports.EventSubscriber
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize structured logger
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting EdgeFleet C2 Server", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize tracing
	if cfg.EnableTracing {
		shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("Failed to initialize tracing", "error", err)
		} else {
			logger.Info("Tracing initialized", "endpoint", cfg.OTLPEndpoint)
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Error("Failed to shutdown tracing", "error", err)
				}
			}()
		}
	}

	// Fleet model
	store, db, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	// Heartbeat history, fleet events and rejected datagrams
	var (
		heartbeats  ports.HeartbeatStore
		events      eventBus
		rejected    ports.RejectedDatagramStore
		redisClient *goredis.Client
	)
	if cfg.RedisURL != "" {
		adapter, client, err := redis_adapter.NewRedisAdapter(cfg.RedisURL, cfg.HeartbeatHistory, cfg.HeartbeatTTL)
		if err != nil {
			log.Fatalf("failed to init redis: %v", err)
		}
		heartbeats, events, redisClient = adapter, adapter, client
		rejected = redis_adapter.NewRejectedStore(client, cfg.RejectedLimit)
		logger.Info("Using redis for heartbeat history and events")
	} else {
		heartbeats = memory.NewHeartbeatStore(cfg.HeartbeatHistory)
		events = memory.NewEventBus()
		rejected = memory.NewRejectedStore(cfg.RejectedLimit)
		logger.Warn("REDIS_URL not set, keeping heartbeat history and events in process")
	}

	resolver, err := flowlocation.NewResolver(cfg.FlowBaseURL)
	if err != nil {
		log.Fatalf("invalid FLOW_BASE_URL: %v", err)
	}

	// Initialize domain services
	operations := services.NewOperationService(store, events)
	heartbeatService := services.NewHeartbeatService(services.HeartbeatDeps{
		Heartbeats:    heartbeats,
		Events:        events,
		Devices:       store,
		Agents:        store,
		Manifests:     store,
		Classes:       store,
		FlowMappings:  store,
		Operations:    operations,
		FlowLocations: resolver,
	})
	endpoint := services.NewC2Endpoint(heartbeatService, operations).WithRejectedStore(rejected)
	fleet := services.NewFleetService(store, store, heartbeats, operations, cfg.AgentOfflineTimeout)
	healthService := services.NewHealthService(db, redisClient, version)

	go services.NewAgentMonitor(store, events, cfg.AgentOfflineTimeout).Start(ctx)

	hub := http_handler.NewHub(events)
	go hub.Run(ctx)
	go hub.EventConsumer(ctx)

	if cfg.MQTTBrokerURL != "" {
		publisher, err := mqtt.NewPublisher(events, cfg.MQTTBrokerURL, cfg.MQTTTopicPrefix)
		if err != nil {
			logger.Error("Failed to init MQTT publisher", "error", err)
		} else if err := publisher.Start(ctx); err != nil {
			logger.Error("Failed to start MQTT publisher", "error", err)
		} else {
			logger.Info("MQTT Publisher started", "prefix", cfg.MQTTTopicPrefix)
		}
	}

	httpServer := http_handler.NewServer(http_handler.ServerDeps{
		Endpoint:      endpoint,
		Fleet:         fleet,
		Health:        healthService,
		Hub:           hub,
		Rejected:      rejected,
		EnableMetrics: cfg.EnableMetrics,
	})

	// Start HTTP Server
	go func() {
		logger.Info("HTTP Server starting", "port", cfg.HTTPPort)
		if err := httpServer.Run(ctx, ":"+cfg.HTTPPort); err != nil {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Port))
	if err != nil {
		logger.Error("Failed to listen", "error", err, "port", cfg.Port)
		log.Fatalf("failed to listen: %v", err)
	}

	s := grpc.NewServer(grpc.UnaryInterceptor(grpc_handler.UnaryInterceptor))
	grpc_handler.RegisterC2Server(s, grpc_handler.NewServer(endpoint))

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down gracefully...")
		s.GracefulStop()
	}()

	logger.Info("gRPC Server starting", "port", cfg.Port)
	if err := s.Serve(lis); err != nil {
		logger.Error("gRPC server failed", "error", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
}

func openStore(cfg *config.Config) (fleetStore, *gorm.DB, error) {
	if cfg.DBDriver == config.DBDriverMemory {
		logger.Warn("Using in-memory fleet store, state is lost on restart")
		return memory.NewRepository(), nil, nil
	}
	db, err := pg.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	repo, err := pg.NewRepository(db)
	if err != nil {
		return nil, nil, err
	}
	return repo, db, nil
}
