// Package schema defines the canonical security event format for socwatch.
// All ingested events are normalized to this structure before storage.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEvent represents one observed security-relevant occurrence.
// Events are created once at ingestion and never mutated afterwards.
type SecurityEvent struct {
	// Required fields
	ID         uuid.UUID `json:"id" validate:"required"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	Severity   Severity  `json:"severity" validate:"required,severity"`
	AttackType string    `json:"attack_type" validate:"required,max=256"`
	SourceIP   string    `json:"source_ip" validate:"required,ip"`

	// Optional fields
	Description   string `json:"description,omitempty" validate:"max=1024"`
	DestinationIP string `json:"destination_ip,omitempty" validate:"omitempty,ip"`
	Country       string `json:"country,omitempty" validate:"max=64"`
	AffectedAsset string `json:"affected_asset,omitempty" validate:"max=256"`
	Port          int    `json:"port" validate:"min=0,max=65535"`
	Protocol      string `json:"protocol,omitempty" validate:"max=32"`
	Blocked       bool   `json:"blocked"`

	// Internal fields (set by system)
	ReceivedAt time.Time `json:"received_at"`
	Seq        uint64    `json:"-"` // store sequence, tie-break for equal timestamps
}

// Severity classifies event impact. The total order is
// Critical > High > Medium > Low > Info.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

// Severities lists all valid severities from most to least severe.
var Severities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// String returns the severity as a plain string.
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Rank returns the severity's position in the total order.
// Higher is more severe: Critical=4 .. Info=0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Before reports whether event a is ordered before event b by timestamp,
// with the store sequence as tie-break. This is the store's display order.
func Before(a, b *SecurityEvent) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.Seq < b.Seq
	}
	return a.Timestamp.Before(b.Timestamp)
}
