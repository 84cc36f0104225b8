package types

import (
	"fmt"
	"time"
)

// HourlySeries is a price or load value per hour of the day, indexed by hour
// (0-23). Optimizing requires at least 24 entries.
type HourlySeries []float64

// ScheduleDecision is the computed charge/discharge plan for one day.
type ScheduleDecision struct {
	// ChargeStartHour is the first hour of the two-hour grid charge window.
	ChargeStartHour int `json:"chargeStartHour"`
	// LoadStartHour is the first hour of the four-hour discharge window.
	LoadStartHour int `json:"loadStartHour"`
}

// ChargeTime formats the charge start as HH:00.
func (d ScheduleDecision) ChargeTime() string {
	return formatHour(d.ChargeStartHour)
}

// LoadTime formats the load start as HH:00.
func (d ScheduleDecision) LoadTime() string {
	return formatHour(d.LoadStartHour)
}

func formatHour(h int) string {
	return fmt.Sprintf("%02d:00", h)
}

// DeviceTarget identifies the plant and inverter a schedule is pushed to.
type DeviceTarget struct {
	PlantID      string `json:"plantID"`
	DeviceSerial string `json:"deviceSerial"`
}

// Display holds the two human readable values published after every
// optimization.
type Display struct {
	ChargeTime string    `json:"chargeTime"`
	LoadTime   string    `json:"loadTime"`
	Timestamp  time.Time `json:"timestamp"`
}

// RunResult describes how far a schedule run got.
type RunResult string

const (
	RunResultPushed         RunResult = "pushed"
	RunResultAuthFailed     RunResult = "authFailed"
	RunResultUpdateRejected RunResult = "updateRejected"
	RunResultFailed         RunResult = "failed"
	RunResultSkipped        RunResult = "skipped"
)

// ScheduleRun records a single optimize-and-push attempt.
type ScheduleRun struct {
	Timestamp  time.Time        `json:"timestamp"`
	Series     HourlySeries     `json:"series"`
	Decision   ScheduleDecision `json:"decision"`
	ChargeTime string           `json:"chargeTime"`
	LoadTime   string           `json:"loadTime"`
	Target     DeviceTarget     `json:"target"`
	Result     RunResult        `json:"result"`
	DryRun     bool             `json:"dryRun,omitempty"`
	Paused     bool             `json:"paused,omitempty"`
	Error      string           `json:"error,omitempty"`
}
