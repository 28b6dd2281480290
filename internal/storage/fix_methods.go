package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/field-tester-server/internal/models"
	"github.com/lorawan-server/field-tester-server/pkg/lorawan"
)

const fixColumns = `id, created_at, envelope, dev_eui, device_id, application_id,
	f_port, f_cnt, latitude, longitude, altitude, hdop, sats, accuracy,
	num_gateways, min_rssi, max_rssi, min_distance, max_distance, buffer, metadata`

// CreateFix stores an accepted fix
func (s *PostgresStore) CreateFix(ctx context.Context, fix *models.FixRecord) error {
	if fix.Envelope == "" || len(fix.Buffer) == 0 {
		return fmt.Errorf("%w: fix without envelope or buffer", ErrInvalidData)
	}

	if fix.ID == uuid.Nil {
		fix.ID = uuid.New()
	}

	if fix.CreatedAt.IsZero() {
		fix.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO fixes (` + fixColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	var devEUI []byte
	if fix.DevEUI != nil {
		devEUI = fix.DevEUI[:]
	}

	_, err := s.db.ExecContext(ctx, query,
		fix.ID, fix.CreatedAt, fix.Envelope, devEUI, fix.DeviceID, fix.ApplicationID,
		int(fix.FPort), int64(fix.FCnt), fix.Latitude, fix.Longitude, fix.Altitude,
		fix.HDOP, fix.Sats, fix.Accuracy, fix.NumGateways, fix.MinRSSI, fix.MaxRSSI,
		fix.MinDistance, fix.MaxDistance, fix.Buffer, fix.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert fix: %w", err)
	}

	return nil
}

// GetFix returns a stored fix by id
func (s *PostgresStore) GetFix(ctx context.Context, id uuid.UUID) (*models.FixRecord, error) {
	query := "SELECT " + fixColumns + " FROM fixes WHERE id = $1"

	fix, err := scanFix(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get fix: %w", err)
	}

	return fix, nil
}

// ListFixes lists stored fixes with filters, newest first
func (s *PostgresStore) ListFixes(ctx context.Context, filters FixFilters, limit, offset int) ([]*models.FixRecord, int64, error) {
	// Build query with filters
	query := "SELECT COUNT(*) FROM fixes WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.DevEUI != nil {
		argCount++
		query += fmt.Sprintf(" AND dev_eui = $%d", argCount)
		args = append(args, filters.DevEUI[:])
	}

	if filters.DeviceID != nil {
		argCount++
		query += fmt.Sprintf(" AND device_id = $%d", argCount)
		args = append(args, *filters.DeviceID)
	}

	if filters.ApplicationID != nil {
		argCount++
		query += fmt.Sprintf(" AND application_id = $%d", argCount)
		args = append(args, *filters.ApplicationID)
	}

	if filters.Envelope != nil {
		argCount++
		query += fmt.Sprintf(" AND envelope = $%d", argCount)
		args = append(args, *filters.Envelope)
	}

	if filters.StartTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filters.StartTime)
	}

	if filters.EndTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filters.EndTime)
	}

	// Get count
	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("count fixes: %w", err)
	}

	// Get rows
	selectQuery := strings.Replace(query, "SELECT COUNT(*)", "SELECT "+fixColumns, 1)

	argCount++
	selectQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	argCount++
	selectQuery += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list fixes: %w", err)
	}
	defer rows.Close()

	fixes := []*models.FixRecord{}
	for rows.Next() {
		fix, err := scanFix(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan fix: %w", err)
		}
		fixes = append(fixes, fix)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list fixes: %w", err)
	}

	return fixes, count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFix(row rowScanner) (*models.FixRecord, error) {
	fix := &models.FixRecord{}
	var devEUI []byte
	var fPort int
	var fCnt int64

	err := row.Scan(
		&fix.ID, &fix.CreatedAt, &fix.Envelope, &devEUI, &fix.DeviceID, &fix.ApplicationID,
		&fPort, &fCnt, &fix.Latitude, &fix.Longitude, &fix.Altitude, &fix.HDOP, &fix.Sats,
		&fix.Accuracy, &fix.NumGateways, &fix.MinRSSI, &fix.MaxRSSI, &fix.MinDistance,
		&fix.MaxDistance, &fix.Buffer, &fix.Metadata,
	)
	if err != nil {
		return nil, err
	}

	fix.FPort = uint8(fPort)
	fix.FCnt = uint32(fCnt)

	if devEUI != nil {
		var eui lorawan.EUI64
		if err := eui.Scan(devEUI); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		fix.DevEUI = &eui
	}

	return fix, nil
}
