package messages

import "time"

// AlertMessage is the notification published on the alerts topic and
// streamed to websocket clients.
type AlertMessage struct {
	AlertID      string    `json:"alertId"`
	DeviceID     string    `json:"deviceId"`
	DeviceName   string    `json:"deviceName"`
	AlertType    string    `json:"alertType"`
	AlertMessage string    `json:"alertMessage"`
	ParamName    string    `json:"paramName"`
	ParamValue   string    `json:"paramValue"`
	AlertLevel   int       `json:"alertLevel"`
	AlertTime    time.Time `json:"alertTime"`
	PastureID    string    `json:"pastureId"`
	BatchID      string    `json:"batchId"`
}
