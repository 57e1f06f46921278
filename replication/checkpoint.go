package replication

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckpointStore persists the checkpoint of each replication, keyed by its
// identifier. Load returns nil without error when nothing was saved.
type CheckpointStore interface {
	Load(ctx context.Context, id string) (*Checkpoint, error)
	Save(ctx context.Context, id string, checkpoint *Checkpoint) error
}

type MemoryCheckpoints struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{checkpoints: map[string]Checkpoint{}}
}

func (m *MemoryCheckpoints) Load(_ context.Context, id string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	checkpoint, ok := m.checkpoints[id]
	if !ok {
		return nil, nil
	}
	return &checkpoint, nil
}

func (m *MemoryCheckpoints) Save(_ context.Context, id string, checkpoint *Checkpoint) error {
	if checkpoint == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[id] = *checkpoint
	return nil
}

const DefaultRedisPrefix = "datastore:checkpoint:"

// RedisCheckpoints keeps checkpoints as JSON strings under prefix + id.
type RedisCheckpoints struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCheckpoints(client redis.UniversalClient, prefix string) *RedisCheckpoints {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCheckpoints{client: client, prefix: prefix}
}

func (r *RedisCheckpoints) Load(ctx context.Context, id string) (*Checkpoint, error) {
	data, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "load checkpoint %s", id)
	}
	checkpoint := &Checkpoint{}
	if err := jsoniter.Unmarshal(data, checkpoint); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", id)
	}
	return checkpoint, nil
}

func (r *RedisCheckpoints) Save(ctx context.Context, id string, checkpoint *Checkpoint) error {
	if checkpoint == nil {
		return nil
	}
	data, err := jsoniter.Marshal(checkpoint)
	if err != nil {
		return errors.Wrapf(err, "encode checkpoint %s", id)
	}
	if err := r.client.Set(ctx, r.prefix+id, data, 0).Err(); err != nil {
		return errors.Wrapf(err, "save checkpoint %s", id)
	}
	return nil
}

// CheckpointRow is the table layout of GormCheckpoints.
type CheckpointRow struct {
	ID         string                          `gorm:"primaryKey;not null;"`
	Checkpoint datatypes.JSONType[*Checkpoint] `gorm:"not null;"`
	UpdatedAt  time.Time                       `gorm:"not null;"`
}

func (CheckpointRow) TableName() string {
	return "replication_checkpoints"
}

type GormCheckpoints struct {
	db *gorm.DB
}

func NewGormCheckpoints(db *gorm.DB) *GormCheckpoints {
	return &GormCheckpoints{db: db}
}

// Migrate creates the checkpoint table.
func (g *GormCheckpoints) Migrate(ctx context.Context) error {
	return errors.Wrap(g.db.WithContext(ctx).AutoMigrate(&CheckpointRow{}), "migrate checkpoints")
}

func (g *GormCheckpoints) Load(ctx context.Context, id string) (*Checkpoint, error) {
	var rows []*CheckpointRow
	if err := g.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "load checkpoint %s", id)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].Checkpoint.Data(), nil
}

func (g *GormCheckpoints) Save(ctx context.Context, id string, checkpoint *Checkpoint) error {
	if checkpoint == nil {
		return nil
	}
	row := &CheckpointRow{
		ID:         id,
		Checkpoint: datatypes.NewJSONType(checkpoint),
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"checkpoint", "updated_at"}),
	}).Create(row).Error
	return errors.Wrapf(err, "save checkpoint %s", id)
}
