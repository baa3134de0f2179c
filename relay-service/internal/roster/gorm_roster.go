package roster

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
)

// DeviceModel maps the lab-management devices table. The relay only reads
// it.
type DeviceModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255"`
	Hostname  string `gorm:"size:255"`
	LabID     string `gorm:"size:64;index"`
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (DeviceModel) TableName() string {
	return "devices"
}

// ToDomain converts the model to a Device.
func (m *DeviceModel) ToDomain() *Device {
	return &Device{ID: m.ID, Name: m.Name, Hostname: m.Hostname, LabID: m.LabID}
}

// GormRoster implements Roster using GORM.
type GormRoster struct {
	db *gorm.DB
}

// NewGormRoster creates a new GORM-based roster.
func NewGormRoster(db *gorm.DB) *GormRoster {
	return &GormRoster{db: db}
}

// Lookup retrieves a device by ID.
func (r *GormRoster) Lookup(ctx context.Context, deviceID string) (*Device, error) {
	l := log.Ctx(ctx)

	var model DeviceModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", deviceID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldDeviceID, deviceID).Msg("failed to get device by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}
