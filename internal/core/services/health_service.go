package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const probeTimeout = 5 * time.Second

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Latency   string       `json:"latency,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

type HealthReport struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]ComponentHealth `json:"components"`
}

// probe checks one backing component. A failing critical probe makes the
// server unhealthy; any other failure only degrades it.
type probe struct {
	name     string
	critical bool
	// disabled is reported instead of running check when check is nil.
	disabled ComponentHealth
	check    func(ctx context.Context) error
}

// HealthService checks the stores behind the C2 endpoint: the fleet store
// (critical) and the heartbeat history/event backend (best effort).
type HealthService struct {
	probes  []probe
	version string
}

// NewHealthService probes db and redisClient. A nil db means the in-memory
// fleet store is in use; a nil redisClient means history and events are in
// process.
func NewHealthService(db *gorm.DB, redisClient *redis.Client, version string) *HealthService {
	if version == "" {
		version = "0.0.1"
	}

	store := probe{
		name:     "fleet_store",
		critical: true,
		disabled: ComponentHealth{Status: HealthStatusHealthy, Message: "in-memory store"},
	}
	if db != nil {
		store.check = func(ctx context.Context) error { return pingDatabase(ctx, db) }
	}

	history := probe{
		name:     "heartbeat_history",
		disabled: ComponentHealth{Status: HealthStatusDegraded, Message: "redis not configured, history and events are per process"},
	}
	if redisClient != nil {
		history.check = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	return &HealthService{
		probes:  []probe{store, history},
		version: version,
	}
}

func pingDatabase(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var one int
	if err := db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return nil
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     HealthStatusHealthy,
		Version:    s.version,
		CheckedAt:  time.Now(),
		Components: make(map[string]ComponentHealth, len(s.probes)),
	}

	for _, p := range s.probes {
		health := p.run(ctx)
		report.Components[p.name] = health

		switch {
		case health.Status == HealthStatusHealthy:
		case p.critical:
			report.Status = HealthStatusUnhealthy
		case report.Status == HealthStatusHealthy:
			report.Status = HealthStatusDegraded
		}
	}

	return report
}

func (p probe) run(ctx context.Context) ComponentHealth {
	if p.check == nil {
		health := p.disabled
		health.CheckedAt = time.Now()
		return health
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := p.check(ctx)
	health := ComponentHealth{
		Status:    HealthStatusHealthy,
		Latency:   time.Since(start).String(),
		CheckedAt: time.Now(),
	}
	if err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = err.Error()
	}
	return health
}

// SimpleHealthCheck returns a status line and HTTP code for load balancers.
// A degraded server keeps accepting heartbeats.
func (s *HealthService) SimpleHealthCheck(ctx context.Context) (string, int) {
	switch s.CheckHealth(ctx).Status {
	case HealthStatusHealthy:
		return "ok", http.StatusOK
	case HealthStatusDegraded:
		return "degraded", http.StatusOK
	default:
		return "unhealthy", http.StatusServiceUnavailable
	}
}
