package utils

import (
	"context"
	"errors"

	"github.com/propdesk/brokerage_backend/config"
	"gorm.io/gorm"
)

/* DB fetching */

// fetch model from db
// (missing rows map to the ErrNotFound category)
func FetchModel[T any](ctx context.Context, id int, associations ...string) (*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("record", id)
		}
		return nil, err
	}
	return &result, nil
}

func ResourceCountWhere[T any](ctx context.Context, cond string, args ...interface{}) (int64, error) {
	db := config.GetDB()
	var v T
	var count int64
	err := db.WithContext(ctx).Model(&v).Where(cond, args...).Count(&count).Error
	return count, err
}

// check if id exists, return RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}
