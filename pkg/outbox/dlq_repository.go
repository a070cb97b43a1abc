package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/pagination"
)

const maxDLQErrorLen = 1024

// ErrInvalidCursor is returned for a dead-letter page cursor that does not decode.
var ErrInvalidCursor = errors.New("invalid page cursor")

// DLQRepository stores outbox events the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records a dead letter inside the publisher's claim transaction.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxDLQErrorLen {
		msg := (*entry.ErrorMessage)[:maxDLQErrorLen]
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns gorm.ErrRecordNotFound when the event never dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// List pages dead letters newest first.
func (r *DLQRepository) List(ctx context.Context, params pagination.Params) ([]models.OutboxDLQ, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var rows []models.OutboxDLQ
	if err := r.db.WithContext(ctx).
		Scopes(pagination.Keyset("failed_at", cursor, params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, "", err
	}
	page, next := pagination.Trim(rows, params.Limit, func(entry models.OutboxDLQ) pagination.Cursor {
		return pagination.Cursor{At: entry.FailedAt, ID: entry.ID}
	})
	return page, next, nil
}

// DeleteFailedBefore purges dead letters recorded before cutoff.
func (r *DLQRepository) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("failed_at < ?", cutoff.UTC()).
		Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
