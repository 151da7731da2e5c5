package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (e.g. slot_stale).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldSlot is the camera slot index.
	FieldSlot = "slot"
	// FieldDevice is the device identifier bound to a slot.
	FieldDevice = "device"
	// FieldGeneration is the capture worker generation.
	FieldGeneration = "generation"
	// FieldState is a slot state name.
	FieldState = "state"
	// FieldRunID identifies one daemon run.
	FieldRunID = "run_id"
	// FieldSessionID ties a diagnostic log file to its run.
	FieldSessionID = "session_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)
