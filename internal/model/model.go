package model

import (
	"github.com/BuXianWanYin/fish-dish-iot/internal/model/entities"
	"github.com/BuXianWanYin/fish-dish-iot/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	Device           = entities.Device
	DeviceType       = entities.DeviceType
	ControlStatus    = entities.ControlStatus
	ThresholdConfig  = entities.ThresholdConfig
	Strategy         = entities.Strategy
	Action           = entities.Action
	Alert            = entities.Alert
	AlertKey         = entities.AlertKey
	AlertStatus      = entities.AlertStatus
	Direction        = entities.Direction
	Severity         = entities.Severity
	DeviceMqttConfig = entities.DeviceMqttConfig
	ParamType        = entities.ParamType

	Reading        = messages.Reading
	AlertMessage   = messages.AlertMessage
	ControlRequest = messages.ControlRequest
	ControlResult  = messages.ControlResult
)

const (
	DeviceUnknown = entities.DeviceUnknown
	DeviceWeather = entities.DeviceWeather
	DeviceWater   = entities.DeviceWater
	DeviceOther   = entities.DeviceOther

	ControlOn  = entities.ControlOn
	ControlOff = entities.ControlOff

	ActionOn  = entities.ActionOn
	ActionOff = entities.ActionOff

	DirectionLow  = entities.DirectionLow
	DirectionHigh = entities.DirectionHigh

	SeverityWarning  = entities.SeverityWarning
	SeverityCritical = entities.SeverityCritical

	AlertOpen     = entities.AlertOpen
	AlertResolved = entities.AlertResolved
)

var (
	ParseDeviceType = entities.ParseDeviceType
	ParseAction     = entities.ParseAction
	CommandGroups   = entities.CommandGroups
	DefaultUnits    = entities.DefaultUnits
)
