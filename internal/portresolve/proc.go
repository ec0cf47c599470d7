package portresolve

import (
	"context"

	gnet "github.com/shirou/gopsutil/v4/net"
)

// Proc resolves ports from the kernel socket table through gopsutil, for
// hosts where ss is not installed.
type Proc struct {
	list func(ctx context.Context) ([]gnet.ConnectionStat, error)
}

func NewProc() *Proc {
	return &Proc{list: func(ctx context.Context) ([]gnet.ConnectionStat, error) {
		return gnet.ConnectionsWithContext(ctx, "tcp")
	}}
}

func (p *Proc) Describe() string { return "proc:tcp" }

func (p *Proc) Resolve(ctx context.Context, port uint16) (int, bool) {
	if port == 0 {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	conns, err := p.list(ctx)
	if err != nil {
		return 0, false
	}
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != uint32(port) || c.Pid <= 0 {
			continue
		}
		return int(c.Pid), true
	}
	return 0, false
}
