package entities

// ThresholdConfig holds the alert bounds for one device parameter.
// Either bound may be nil.
type ThresholdConfig struct {
	ID        uint     `gorm:"column:id;primaryKey;autoIncrement" json:"id" yaml:"-"`
	DeviceID  string   `gorm:"column:device_id;index:idx_threshold_device_param" json:"device_id" yaml:"device_id"`
	ParamType string   `gorm:"column:param_type;index:idx_threshold_device_param" json:"param_type" yaml:"param"`
	Unit      string   `gorm:"column:unit" json:"unit" yaml:"unit"`
	Min       *float64 `gorm:"column:threshold_min" json:"threshold_min,omitempty" yaml:"min"`
	Max       *float64 `gorm:"column:threshold_max" json:"threshold_max,omitempty" yaml:"max"`
	Enabled   bool     `gorm:"column:is_enabled" json:"enabled" yaml:"enabled"`
}

func (ThresholdConfig) TableName() string { return "agriculture_threshold_config" }
