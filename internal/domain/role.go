package domain

import (
	"fmt"
	"strings"
)

// Role is the redundancy role of a search engine.
type Role int

const (
	// RolePrimary is consulted first.
	RolePrimary Role = iota
	// RoleBackup serves when the primary cannot.
	RoleBackup
)

func (r Role) String() string {
	if r == RoleBackup {
		return "backup"
	}
	return "primary"
}

// Subsystem names a restartable part of the system.
type Subsystem int

const (
	// SubsystemPrimaryEngine is the primary search engine.
	SubsystemPrimaryEngine Subsystem = iota
	// SubsystemBackupEngine is the backup search engine.
	SubsystemBackupEngine
	// SubsystemTelemetry is the telemetry aggregator.
	SubsystemTelemetry
)

func (s Subsystem) String() string {
	switch s {
	case SubsystemPrimaryEngine:
		return "primary_engine"
	case SubsystemBackupEngine:
		return "backup_engine"
	case SubsystemTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// ParseSubsystem resolves the administrative names accepted by emergency restart.
func ParseSubsystem(name string) (Subsystem, error) {
	switch strings.TrimSpace(name) {
	case "primary", "primary_engine":
		return SubsystemPrimaryEngine, nil
	case "backup", "backup_engine":
		return SubsystemBackupEngine, nil
	case "telemetry":
		return SubsystemTelemetry, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSubsystem, name)
	}
}
