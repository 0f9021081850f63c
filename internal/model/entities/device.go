package entities

import (
	"strings"
	"time"
)

// DeviceType is the closed set of device families known to the station.
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DeviceWeather
	DeviceWater
	DeviceOther
)

// ParseDeviceType maps the stored type tag ("1", "2", "6" or the textual
// forms) to a DeviceType. Anything else is DeviceUnknown.
func ParseDeviceType(tag string) DeviceType {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "1", "weather":
		return DeviceWeather
	case "2", "water":
		return DeviceWater
	case "6", "other":
		return DeviceOther
	default:
		return DeviceUnknown
	}
}

// DataTag is the reading classification forwarded downstream.
func (t DeviceType) DataTag() string {
	switch t {
	case DeviceWeather:
		return "weather"
	case DeviceWater:
		return "water"
	case DeviceOther:
		return "other"
	default:
		return "unknown"
	}
}

func (t DeviceType) String() string { return t.DataTag() }

// IsSensor reports whether devices of this type get a polling loop.
func (t DeviceType) IsSensor() bool {
	return t == DeviceWeather || t == DeviceWater || t == DeviceOther
}

// ControlStatus is the logical actuator state persisted on the device row.
type ControlStatus string

const (
	ControlOff ControlStatus = "0"
	ControlOn  ControlStatus = "1"
)

// Device e' la riga di configurazione di un sensore o attuatore.
type Device struct {
	ID             string        `gorm:"column:id;primaryKey;size:64" json:"id" yaml:"id"`
	Name           string        `gorm:"column:device_name" json:"device_name" yaml:"name"`
	TypeTag        string        `gorm:"column:device_type;index" json:"device_type" yaml:"type"`
	PastureID      string        `gorm:"column:pasture_id" json:"pasture_id" yaml:"pasture_id"`
	BatchID        string        `gorm:"column:batch_id" json:"batch_id" yaml:"batch_id"`
	SensorCommand  string        `gorm:"column:sensor_command" json:"sensor_command" yaml:"sensor_command"`
	CommandOn      string        `gorm:"column:command_on" json:"command_on" yaml:"command_on"`
	CommandOff     string        `gorm:"column:command_off" json:"command_off" yaml:"command_off"`
	Controllable   bool          `gorm:"column:is_controllable" json:"controllable" yaml:"controllable"`
	ControlStatus  ControlStatus `gorm:"column:control_status;size:1;default:0" json:"control_status" yaml:"control_status"`
	Online         bool          `gorm:"column:online" json:"online" yaml:"-"`
	LastOnlineTime *time.Time    `gorm:"column:last_online_time" json:"last_online_time,omitempty" yaml:"-"`
	UpdatedAt      time.Time     `gorm:"column:update_time" json:"update_time" yaml:"-"`
}

func (Device) TableName() string { return "agriculture_device" }

// Type returns the closed device family of the stored tag.
func (d Device) Type() DeviceType { return ParseDeviceType(d.TypeTag) }

// HasPollCommand reports whether a polling command is configured.
// The literal "null" counts as missing.
func (d Device) HasPollCommand() bool { return commandSet(d.SensorCommand) }

func commandSet(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, "null")
}

// CommandGroups splits an on/off command string into its phase segments.
func CommandGroups(s string) []string {
	if !commandSet(s) {
		return nil
	}
	parts := strings.Split(s, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// DualPhase reports whether either command string carries more than one segment.
func (d Device) DualPhase() bool {
	return len(CommandGroups(d.CommandOn)) > 1 || len(CommandGroups(d.CommandOff)) > 1
}
