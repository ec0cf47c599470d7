package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a resource sample of a live child.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

// Usage samples CPU and memory of the held child. ok is false when no child
// is held or the sample could not be taken.
func (s *Supervisor) Usage() (Usage, bool) {
	pid := s.PID()
	if pid <= 0 {
		return Usage{}, false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, false
	}
	var u Usage
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, false
	}
	u.RSSBytes = mem.RSS
	if n, err := p.NumThreads(); err == nil {
		u.Threads = n
	}
	return u, true
}
