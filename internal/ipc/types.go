package ipc

import "camwatch/internal/api"

// StartRequest starts supervision.
type StartRequest struct{}

// StartResponse reports whether supervision started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops supervision without exiting the process.
type StopRequest struct{}

// StopResponse acknowledges a stop.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest asks for daemon state and a fresh health snapshot.
type StatusRequest struct{}

// StatusResponse is the daemon status.
type StatusResponse = api.DaemonStatus

// RescanRequest reconciles devices immediately.
type RescanRequest struct{}

// RescanResponse reports the number of slot transitions a rescan caused.
type RescanResponse = api.RescanResponse

// ResetRequest releases a slot that gave up on its camera.
type ResetRequest struct {
	Slot int `json:"slot"`
}

// ResetResponse carries the slot after the reset.
type ResetResponse struct {
	Slot api.SlotView `json:"slot"`
}

// DevicesRequest lists device nodes.
type DevicesRequest struct{}

// DevicesResponse lists device nodes and the slot each is bound to.
type DevicesResponse struct {
	Devices []api.DeviceView `json:"devices"`
}

// HistoryRequest reads stored health snapshots.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse lists snapshots, newest first.
type HistoryResponse struct {
	Snapshots []api.HealthView `json:"snapshots"`
}

// TestNotificationRequest sends a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether a notification was delivered.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}

// LogTailRequest reads the daemon log. A negative Offset returns the last
// Limit lines. Slot, when set, keeps only lines about that slot.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"waitMillis"`
	Slot       *int  `json:"slot,omitempty"`
}

// LogTailResponse carries log lines and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
