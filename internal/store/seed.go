package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
)

// SeedFile is the YAML description of devices, thresholds, strategies,
// topics and the parameter dictionary loaded at boot.
type SeedFile struct {
	Devices    []model.Device           `yaml:"devices"`
	Thresholds []model.ThresholdConfig  `yaml:"thresholds"`
	Strategies []model.Strategy         `yaml:"strategies"`
	Topics     []model.DeviceMqttConfig `yaml:"topics"`
	Params     []model.ParamType        `yaml:"params"`
}

// LoadSeed reads and parses a seed file.
func LoadSeed(path string) (*SeedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f SeedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i, d := range f.Devices {
		if d.ID == "" {
			return nil, fmt.Errorf("seed %s: device #%d has no id", path, i)
		}
		if f.Devices[i].ControlStatus == "" {
			f.Devices[i].ControlStatus = model.ControlOff
		}
	}
	return &f, nil
}

// Seed upserts devices, topics and dictionary rows by their natural key and
// replaces thresholds and strategies wholesale. Runtime columns (control
// status, online state) of existing devices are preserved.
func (s *Store) Seed(ctx context.Context, f *SeedFile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range f.Devices {
			d := f.Devices[i]
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"device_name", "device_type", "pasture_id", "batch_id",
					"sensor_command", "command_on", "command_off", "is_controllable",
				}),
			}).Create(&d).Error
			if err != nil {
				return fmt.Errorf("seed device %s: %w", d.ID, err)
			}
		}
		for i := range f.Topics {
			t := f.Topics[i]
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "device_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"mqtt_topic", "mqtt_qos"}),
			}).Create(&t).Error
			if err != nil {
				return fmt.Errorf("seed topic %s: %w", t.DeviceID, err)
			}
		}
		for i := range f.Params {
			p := f.Params[i]
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "param_type_en"}},
				DoUpdates: clause.AssignmentColumns([]string{"param_type_cn", "remark"}),
			}).Create(&p).Error
			if err != nil {
				return fmt.Errorf("seed param %s: %w", p.Key, err)
			}
		}
		if f.Thresholds != nil {
			if err := tx.Where("1 = 1").Delete(&model.ThresholdConfig{}).Error; err != nil {
				return err
			}
			if len(f.Thresholds) > 0 {
				if err := tx.Create(&f.Thresholds).Error; err != nil {
					return fmt.Errorf("seed thresholds: %w", err)
				}
			}
		}
		if f.Strategies != nil {
			if err := tx.Where("1 = 1").Delete(&model.Strategy{}).Error; err != nil {
				return err
			}
			if len(f.Strategies) > 0 {
				if err := tx.Create(&f.Strategies).Error; err != nil {
					return fmt.Errorf("seed strategies: %w", err)
				}
			}
		}
		return nil
	})
}
