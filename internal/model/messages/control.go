package messages

// ControlRequest is the body of the device control endpoint.
type ControlRequest struct {
	Action string `json:"action"`
	Index  int    `json:"index"`
}

// ControlResult is the outcome of a controlDevice call. Code follows HTTP
// semantics: 200 ok, 400 bad configuration/request, 403 not controllable,
// 404 unknown device, 500 transport failure.
type ControlResult struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
