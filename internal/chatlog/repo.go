package chatlog

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/ai-relay/internal/common"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&MessageLog{})
}

// Insert assigns a ULID when the row has none. Inserting an id that
// already exists is a no-op, so redelivered queue messages stay single.
func (r *Repo) Insert(ctx context.Context, m *MessageLog) error {
	if m.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		m.ID = id
	}
	err := r.db.WithContext(ctx).Create(m).Error
	if err == nil {
		return nil
	}
	if _, getErr := r.Get(ctx, m.ID); getErr == nil {
		return nil
	}
	return err
}

func (r *Repo) Get(ctx context.Context, id string) (*MessageLog, error) {
	var m MessageLog
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns the newest logs first, optionally filtered by provider.
func (r *Repo) List(ctx context.Context, limit int, provider string) ([]MessageLog, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if p := strings.ToLower(strings.TrimSpace(provider)); p != "" {
		q = q.Where("provider = ?", p)
	}
	var out []MessageLog
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
