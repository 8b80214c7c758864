package repository

import (
	"context"

	"github.com/Fi44er/task_bot/utils"
	"gorm.io/gorm"
)

type Repository struct {
	db     *gorm.DB
	logger *utils.Logger
}

func NewRepository(db *gorm.DB, logger *utils.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// conn returns the open transaction when there is one and the pool otherwise.
func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	db := tx
	if tx == nil {
		db = r.db
	}
	return db.WithContext(ctx)
}

// limited applies limit when it is positive; otherwise the query is unbounded.
func limited(limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if limit > 0 {
			return db.Limit(limit)
		}
		return db
	}
}
