package health

// Component reports whether one subsystem is able to serve.
type Component interface {
	Operational() bool
}

// Prober samples process resource usage.
type Prober interface {
	Sample() (Sample, error)
}
