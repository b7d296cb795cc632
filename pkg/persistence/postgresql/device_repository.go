package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
)

func (p *Persistence) DeviceByID(ctx context.Context, domainID, deviceID string) (*models.Device, error) {
	query := `
		SELECT domain_id, id, name, properties, updated_at
		FROM devices
		WHERE domain_id = $1 AND id = $2
	`

	device, err := scanDevice(p.db.QueryRowContext(ctx, query, domainID, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrDeviceNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("DeviceByID", domainID, deviceID, err)
	}

	return device, nil
}

func (p *Persistence) LookupDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `
		SELECT domain_id, id, name, properties, updated_at
		FROM devices
		WHERE id = $1
		LIMIT 1
	`

	device, err := scanDevice(p.db.QueryRowContext(ctx, query, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrDeviceNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("LookupDevice", "", deviceID, err)
	}

	return device, nil
}

func (p *Persistence) SaveDevice(ctx context.Context, device *models.Device) error {
	properties, err := json.Marshal(device.Properties)
	if err != nil {
		return persistence.NewStoreError("SaveDevice", device.DomainID, device.ID, err)
	}

	query := `
		INSERT INTO devices (domain_id, id, name, properties, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (domain_id, id)
		DO UPDATE SET
			name = EXCLUDED.name,
			properties = EXCLUDED.properties,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.db.ExecContext(ctx, query,
		device.DomainID, device.ID, device.Name, properties, time.Now().UTC())
	if err != nil {
		return persistence.NewStoreError("SaveDevice", device.DomainID, device.ID, err)
	}

	return nil
}

func (p *Persistence) SetDeviceProperty(ctx context.Context, domainID, deviceID, property string, value any) error {
	patch, err := json.Marshal(map[string]any{property: value})
	if err != nil {
		return persistence.NewStoreError("SetDeviceProperty", domainID, deviceID, err)
	}

	query := `
		UPDATE devices
		SET properties = properties || $3::jsonb, updated_at = $4
		WHERE domain_id = $1 AND id = $2
	`

	result, err := p.db.ExecContext(ctx, query, domainID, deviceID, patch, time.Now().UTC())
	if err != nil {
		return persistence.NewStoreError("SetDeviceProperty", domainID, deviceID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("SetDeviceProperty", domainID, deviceID, err)
	}

	if affected == 0 {
		return persistence.ErrDeviceNotFound
	}

	return nil
}

func scanDevice(row rowScanner) (*models.Device, error) {
	device := &models.Device{}

	var properties []byte

	err := row.Scan(&device.DomainID, &device.ID, &device.Name, &properties, &device.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(properties, &device.Properties); err != nil {
		return nil, err
	}

	return device, nil
}
