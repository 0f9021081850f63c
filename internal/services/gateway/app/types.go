package app

import (
	"time"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/autocontrol"
)

// ---------- DTO verso la dashboard ----------

type DeviceView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	PastureID      string     `json:"pasture_id,omitempty"`
	BatchID        string     `json:"batch_id,omitempty"`
	Controllable   bool       `json:"controllable"`
	DualPhase      bool       `json:"dual_phase"`
	ControlStatus  string     `json:"control_status"`
	Online         bool       `json:"online"`
	LastOnlineTime *time.Time `json:"last_online_time,omitempty"`
}

func toDeviceView(d model.Device) DeviceView {
	return DeviceView{
		ID:             d.ID,
		Name:           d.Name,
		Type:           d.Type().String(),
		PastureID:      d.PastureID,
		BatchID:        d.BatchID,
		Controllable:   d.Controllable,
		DualPhase:      d.DualPhase(),
		ControlStatus:  string(d.ControlStatus),
		Online:         d.Online,
		LastOnlineTime: d.LastOnlineTime,
	}
}

// ActuatorStatus is the runtime state of a controllable device.
type ActuatorStatus struct {
	DeviceID      string                `json:"device_id"`
	ControlStatus string                `json:"control_status"`
	PendingRest   int                   `json:"pending_rest"`
	Auto          *autocontrol.Snapshot `json:"auto,omitempty"`
}

type SensorStatus struct {
	Running   []string         `json:"running"`
	Actuators []ActuatorStatus `json:"actuators"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
