// Package store is the configuration and alert store of the station,
// backed by SQLite through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite: un solo writer, i poller condividono la connessione
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&model.Device{},
		&model.ThresholdConfig{},
		&model.Strategy{},
		&model.DeviceMqttConfig{},
		&model.Alert{},
		&model.ParamType{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ===== Devices =====

func (s *Store) ListDevices(ctx context.Context) ([]model.Device, error) {
	var out []model.Device
	err := s.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

// SensorDevices returns the devices that get a polling loop (weather, water, other).
func (s *Store) SensorDevices(ctx context.Context) ([]model.Device, error) {
	all, err := s.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Device, 0, len(all))
	for _, d := range all {
		if d.Type().IsSensor() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	var d model.Device
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *Store) UpdateControlStatus(ctx context.Context, id string, status model.ControlStatus) error {
	res := s.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).
		Updates(map[string]any{"control_status": status, "update_time": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDeviceOnline stamps the last-online time and reports whether the device
// was previously offline.
func (s *Store) MarkDeviceOnline(ctx context.Context, id string, at time.Time) (bool, error) {
	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d model.Device
		if err := tx.Select("id", "online").First(&d, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		changed = !d.Online
		return tx.Model(&model.Device{}).Where("id = ?", id).
			Updates(map[string]any{"online": true, "last_online_time": at}).Error
	})
	return changed, err
}

// ===== Thresholds / strategies =====

// ThresholdFor returns the enabled threshold of (deviceID, param), or nil.
func (s *Store) ThresholdFor(ctx context.Context, deviceID, param string) (*model.ThresholdConfig, error) {
	var c model.ThresholdConfig
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND param_type = ? AND is_enabled = ?", deviceID, param, true).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) EnabledStrategies(ctx context.Context) ([]model.Strategy, error) {
	var out []model.Strategy
	err := s.db.WithContext(ctx).Where("status = ?", true).Order("id").Find(&out).Error
	return out, err
}

// ===== MQTT topics / dictionary =====

// TopicFor returns the configured publish topic of a device.
func (s *Store) TopicFor(ctx context.Context, deviceID string) (string, byte, bool, error) {
	var c model.DeviceMqttConfig
	err := s.db.WithContext(ctx).First(&c, "device_id = ?", deviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	if c.Topic == "" {
		return "", 0, false, nil
	}
	return c.Topic, byte(c.QoS), true, nil
}

// ParamLabel returns the display label of a parameter, or the key itself.
func (s *Store) ParamLabel(ctx context.Context, key string) string {
	var p model.ParamType
	if err := s.db.WithContext(ctx).First(&p, "param_type_en = ?", key).Error; err != nil || p.Label == "" {
		return key
	}
	return p.Label
}
