package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SlotView describes one camera slot.
type SlotView struct {
	Index               int    `json:"index"`
	State               string `json:"state"`
	Label               string `json:"label"`
	Device              string `json:"device,omitempty"`
	Generation          uint64 `json:"generation"`
	LastFrameAt         string `json:"lastFrameAt,omitempty"`
	RestartsInWindow    int    `json:"restartsInWindow"`
	RestartsTotal       uint64 `json:"restartsTotal"`
	CooldownRemainingMS int64  `json:"cooldownRemainingMs,omitempty"`
	FailureReason       string `json:"failureReason,omitempty"`
	LastError           string `json:"lastError,omitempty"`
	Frames              uint64 `json:"frames"`
	DiscardedFrames     uint64 `json:"discardedFrames"`
	ReadFailures        uint64 `json:"readFailures"`
}

// PerfView describes the FPS controller.
type PerfView struct {
	CaptureFPS    float64  `json:"captureFps"`
	UIFPS         float64  `json:"uiFps"`
	Dynamic       bool     `json:"dynamic"`
	Stressed      bool     `json:"stressed"`
	StressStreak  int      `json:"stressStreak"`
	RecoverStreak int      `json:"recoverStreak"`
	Load          *float64 `json:"load,omitempty"`
	TempC         *float64 `json:"tempC,omitempty"`
	StepsDown     uint64   `json:"stepsDown"`
	StepsUp       uint64   `json:"stepsUp"`
}

// HealthView is a converted health snapshot.
type HealthView struct {
	TakenAt string         `json:"takenAt"`
	RunID   string         `json:"runId,omitempty"`
	Slots   []SlotView     `json:"slots"`
	Perf    PerfView       `json:"perf"`
	Counts  map[string]int `json:"counts"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool       `json:"running"`
	PID           int        `json:"pid"`
	RunID         string     `json:"runId,omitempty"`
	StartedAt     string     `json:"startedAt,omitempty"`
	LockFilePath  string     `json:"lockFilePath"`
	HealthDBPath  string     `json:"healthDbPath,omitempty"`
	LogPath       string     `json:"logPath,omitempty"`
	Hotplug       bool       `json:"hotplug"`
	MQTT          bool       `json:"mqtt"`
	Notifications bool       `json:"notifications"`
	Health        HealthView `json:"health"`
}

// RescanResponse reports a manual rescan.
type RescanResponse struct {
	Transitions int    `json:"transitions"`
	Error       string `json:"error,omitempty"`
}

// DeviceView describes one enumerated device node.
type DeviceView struct {
	ID         string `json:"id"`
	Accessible bool   `json:"accessible"`
	Problem    string `json:"problem,omitempty"`
	Slot       *int   `json:"slot,omitempty"`
}
