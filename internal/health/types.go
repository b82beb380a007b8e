package health

import "time"

// Verdict is the overall SMART health outcome for a device.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictUnknown Verdict = "unknown"
)

// Attribute is one row of the ATA SMART attribute table, or a synthesized
// entry from the NVMe health log.
type Attribute struct {
	ID         int    `json:"id,omitempty"`
	Name       string `json:"name"`
	Value      int    `json:"value,omitempty"`
	Worst      int    `json:"worst,omitempty"`
	Threshold  int    `json:"threshold,omitempty"`
	WhenFailed string `json:"when_failed,omitempty"`
	Raw        int64  `json:"raw"`
	Failed     bool   `json:"failed"`
}

// SelfTest is the device's last/current self-test state.
type SelfTest struct {
	Status           string `json:"status,omitempty"`
	Passed           *bool  `json:"passed,omitempty"`
	Running          bool   `json:"running"`
	RemainingPercent int    `json:"remaining_percent,omitempty"`
}

// Report is an immutable snapshot of a device's SMART state.
type Report struct {
	Device       string      `json:"device"`
	Verdict      Verdict     `json:"verdict"`
	Model        string      `json:"model,omitempty"`
	Serial       string      `json:"serial,omitempty"`
	TempCelsius  *int        `json:"temp_c,omitempty"`
	PowerOnHours *int        `json:"power_on_hours,omitempty"`
	SelfTest     *SelfTest   `json:"self_test,omitempty"`
	Attributes   []Attribute `json:"attributes,omitempty"`
	ReadAt       time.Time   `json:"read_at"`
}

// TestHandle is returned when a self-test is issued. The test runs inside
// the drive; completion is observed by re-reading the report.
type TestHandle struct {
	Device    string    `json:"device"`
	Type      string    `json:"type"` // short|long
	StartedAt time.Time `json:"started_at"`
}
