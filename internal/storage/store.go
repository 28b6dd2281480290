package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/field-tester-server/internal/models"
	"github.com/lorawan-server/field-tester-server/pkg/lorawan"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Fix methods
	CreateFix(ctx context.Context, fix *models.FixRecord) error
	GetFix(ctx context.Context, id uuid.UUID) (*models.FixRecord, error)
	ListFixes(ctx context.Context, filters FixFilters, limit, offset int) ([]*models.FixRecord, int64, error)

	// Close the store
	Close() error
}

// FixFilters represents filters for stored fixes
type FixFilters struct {
	DevEUI        *lorawan.EUI64
	DeviceID      *string
	ApplicationID *string
	Envelope      *string
	StartTime     *time.Time
	EndTime       *time.Time
}
