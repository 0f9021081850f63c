package entities

import "time"

type Direction string

const (
	DirectionLow  Direction = "LOW"
	DirectionHigh Direction = "HIGH"
)

type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Level is the numeric alert level carried in notifications (0 warning, 1 critical).
func (s Severity) Level() int {
	if s == SeverityCritical {
		return 1
	}
	return 0
}

type AlertStatus int

const (
	AlertOpen     AlertStatus = 0
	AlertResolved AlertStatus = 1
)

// Alert is a threshold breach. At most one open alert exists per
// (device, parameter, direction, pasture, batch).
type Alert struct {
	ID           string      `gorm:"column:id;primaryKey;size:36" json:"id"`
	DeviceID     string      `gorm:"column:device_id;index:idx_alert_key" json:"device_id"`
	DeviceName   string      `gorm:"column:device_name" json:"device_name"`
	DeviceType   string      `gorm:"column:device_type" json:"device_type"`
	PastureID    string      `gorm:"column:pasture_id;index:idx_alert_key" json:"pasture_id"`
	BatchID      string      `gorm:"column:batch_id;index:idx_alert_key" json:"batch_id"`
	ParamName    string      `gorm:"column:param_name;index:idx_alert_key" json:"param_name"`
	ParamValue   float64     `gorm:"column:param_value" json:"param_value"`
	Direction    Direction   `gorm:"column:alert_type" json:"alert_type"`
	Message      string      `gorm:"column:alert_message" json:"alert_message"`
	Severity     Severity    `gorm:"column:alert_level" json:"alert_level"`
	Status       AlertStatus `gorm:"column:status;index" json:"status"`
	ThresholdMin *float64    `gorm:"column:threshold_min" json:"threshold_min,omitempty"`
	ThresholdMax *float64    `gorm:"column:threshold_max" json:"threshold_max,omitempty"`
	AlertTime    time.Time   `gorm:"column:alert_time;index" json:"alert_time"`
	UpdateTime   *time.Time  `gorm:"column:update_time" json:"update_time,omitempty"`
}

func (Alert) TableName() string { return "agriculture_device_sensor_alert" }

// AlertKey identifies the dedup scope of an alert, minus the direction.
type AlertKey struct {
	DeviceID  string
	ParamName string
	PastureID string
	BatchID   string
}

func (k AlertKey) String() string {
	return k.DeviceID + "|" + k.ParamName + "|" + k.PastureID + "|" + k.BatchID
}
