package pg

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"edgefleet.c2/internal/core/domain"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the fleet database. sqlite is meant for single-node
// installs and tests.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres, "":
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return db, nil
}

// Repository implements every fleet store port on one gorm connection.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(
		&domain.Device{},
		&domain.Agent{},
		&domain.AgentManifest{},
		&domain.AgentClass{},
		&domain.FlowMapping{},
		&domain.Operation{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// DB returns the underlying gorm DB instance
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func translate(kind, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrAlreadyExists)
	default:
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
}

// update saves an existing row and reports ErrNotFound when none matched.
func (r *Repository) update(ctx context.Context, kind, id string, value any) error {
	res := r.db.WithContext(ctx).Model(value).Select("*").Updates(value)
	if res.Error != nil {
		return translate(kind, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return translate(kind, id, gorm.ErrRecordNotFound)
	}
	return nil
}

// Device methods

func (r *Repository) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	var device domain.Device
	if err := r.db.WithContext(ctx).First(&device, "id = ?", id).Error; err != nil {
		return nil, translate("device", id, err)
	}
	return &device, nil
}

func (r *Repository) CreateDevice(ctx context.Context, device *domain.Device) error {
	return translate("device", device.ID, r.db.WithContext(ctx).Create(device).Error)
}

func (r *Repository) UpdateDevice(ctx context.Context, device *domain.Device) error {
	return r.update(ctx, "device", device.ID, device)
}

// Agent methods

func (r *Repository) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	var agent domain.Agent
	if err := r.db.WithContext(ctx).First(&agent, "id = ?", id).Error; err != nil {
		return nil, translate("agent", id, err)
	}
	return &agent, nil
}

func (r *Repository) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	return translate("agent", agent.ID, r.db.WithContext(ctx).Create(agent).Error)
}

func (r *Repository) UpdateAgent(ctx context.Context, agent *domain.Agent) error {
	return r.update(ctx, "agent", agent.ID, agent)
}

func (r *Repository) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	var agents []*domain.Agent
	if err := r.db.WithContext(ctx).Order("id").Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

// Manifest methods

func (r *Repository) GetManifest(ctx context.Context, id string) (*domain.AgentManifest, error) {
	var manifest domain.AgentManifest
	if err := r.db.WithContext(ctx).First(&manifest, "id = ?", id).Error; err != nil {
		return nil, translate("agent manifest", id, err)
	}
	return &manifest, nil
}

func (r *Repository) ManifestExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.AgentManifest{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) CreateManifest(ctx context.Context, manifest *domain.AgentManifest) error {
	return translate("agent manifest", manifest.ID, r.db.WithContext(ctx).Create(manifest).Error)
}

// Class methods

func (r *Repository) GetClass(ctx context.Context, name string) (*domain.AgentClass, error) {
	var class domain.AgentClass
	if err := r.db.WithContext(ctx).First(&class, "name = ?", name).Error; err != nil {
		return nil, translate("agent class", name, err)
	}
	return &class, nil
}

func (r *Repository) CreateClass(ctx context.Context, class *domain.AgentClass) error {
	return translate("agent class", class.Name, r.db.WithContext(ctx).Create(class).Error)
}

func (r *Repository) UpdateClass(ctx context.Context, class *domain.AgentClass) error {
	return r.update(ctx, "agent class", class.Name, class)
}

// Flow mapping methods

func (r *Repository) GetFlowMapping(ctx context.Context, agentClass string) (*domain.FlowMapping, error) {
	var mapping domain.FlowMapping
	if err := r.db.WithContext(ctx).First(&mapping, "agent_class = ?", agentClass).Error; err != nil {
		return nil, translate("flow mapping", agentClass, err)
	}
	return &mapping, nil
}

func (r *Repository) SaveFlowMapping(ctx context.Context, mapping *domain.FlowMapping) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_class"}},
		DoUpdates: clause.AssignmentColumns([]string{"flow_id", "updated_at"}),
	}).Create(mapping).Error
	return translate("flow mapping", mapping.AgentClass, err)
}

// Operation methods

func (r *Repository) GetOperation(ctx context.Context, id string) (*domain.Operation, error) {
	var op domain.Operation
	if err := r.db.WithContext(ctx).First(&op, "id = ?", id).Error; err != nil {
		return nil, translate("operation", id, err)
	}
	return &op, nil
}

func (r *Repository) CreateOperation(ctx context.Context, op *domain.Operation) error {
	return translate("operation", op.ID, r.db.WithContext(ctx).Create(op).Error)
}

func (r *Repository) UpdateOperation(ctx context.Context, op *domain.Operation) error {
	return r.update(ctx, "operation", op.ID, op)
}

func (r *Repository) ListOperationsByAgent(ctx context.Context, agentID string, state domain.OperationState) ([]*domain.Operation, error) {
	q := r.db.WithContext(ctx).Where("target_agent_id = ?", agentID)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var ops []*domain.Operation
	if err := q.Order("created_at asc, id asc").Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}
