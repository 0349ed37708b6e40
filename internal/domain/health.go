package domain

// SystemHealth is the coarse health classification derived from process metrics.
// It is computed on read and never stored.
type SystemHealth int

const (
	// Nominal means all systems green.
	Nominal SystemHealth = iota
	// Degraded means reduced capability.
	Degraded
	// Critical means the system is failing.
	Critical
)

// Classification thresholds. Comparisons are strict.
const (
	CriticalCPUPercent    = 90.0
	CriticalMemoryPercent = 90.0
	CriticalErrorRate     = 0.10
	DegradedCPUPercent    = 70.0
	DegradedMemoryPercent = 70.0
	DegradedErrorRate     = 0.05
)

func (h SystemHealth) String() string {
	switch h {
	case Nominal:
		return "NOMINAL"
	case Degraded:
		return "DEGRADED"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the level by name.
func (h SystemHealth) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Classify maps CPU load percent, memory percent and error rate (0..1) to a health level.
func Classify(cpuPercent, memoryPercent, errorRate float64) SystemHealth {
	switch {
	case cpuPercent > CriticalCPUPercent || memoryPercent > CriticalMemoryPercent || errorRate > CriticalErrorRate:
		return Critical
	case cpuPercent > DegradedCPUPercent || memoryPercent > DegradedMemoryPercent || errorRate > DegradedErrorRate:
		return Degraded
	default:
		return Nominal
	}
}
