package health

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/prometheus/procfs"
)

// Sample is one reading of process resource usage.
type Sample struct {
	CPUPercent    float64 // 1-minute load average per core, in percent
	MemoryPercent float64 // resident set size relative to MemTotal
	MemoryMB      float64 // resident set size
}

// ProcProbe reads /proc through procfs.
type ProcProbe struct {
	fs     procfs.FS
	numCPU int
}

// NewProcProbe opens the default /proc mount.
func NewProcProbe() (*ProcProbe, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcProbe{fs: fs, numCPU: max(runtime.NumCPU(), 1)}, nil
}

// Sample reads load average, own RSS and total memory.
func (p *ProcProbe) Sample() (Sample, error) {
	load, err := p.fs.LoadAvg()
	if err != nil {
		return Sample{}, fmt.Errorf("read loadavg: %w", err)
	}

	self, err := p.fs.Self()
	if err != nil {
		return Sample{}, fmt.Errorf("read self: %w", err)
	}
	stat, err := self.Stat()
	if err != nil {
		return Sample{}, fmt.Errorf("read self stat: %w", err)
	}
	rss := float64(stat.ResidentMemory())

	mem, err := p.fs.Meminfo()
	if err != nil {
		return Sample{}, fmt.Errorf("read meminfo: %w", err)
	}
	if mem.MemTotal == nil || *mem.MemTotal == 0 {
		return Sample{}, errors.New("meminfo: MemTotal missing")
	}
	total := float64(*mem.MemTotal) * 1024 // kB

	return Sample{
		CPUPercent:    load.Load1 / float64(p.numCPU) * 100,
		MemoryPercent: rss / total * 100,
		MemoryMB:      rss / (1024 * 1024),
	}, nil
}
