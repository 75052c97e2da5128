package producer

import (
	"sync/atomic"
)

// Stats is a point-in-time copy of the producer counters.
type Stats struct {
	SendSuccess int64 `json:"send_success"`
	SendFail    int64 `json:"send_fail"`
	LogCount    int64 `json:"log_count"`
	DropCount   int64 `json:"drop_count"`
}

type counters struct {
	sendSuccess atomic.Int64
	sendFail    atomic.Int64
	logCount    atomic.Int64
	dropCount   atomic.Int64
}

func (c *counters) IncSuccess() {
	c.sendSuccess.Add(1)
}

func (c *counters) IncFail() {
	c.sendFail.Add(1)
}

func (c *counters) AddLogs(n int) {
	c.logCount.Add(int64(n))
}

func (c *counters) IncDrop() {
	c.dropCount.Add(1)
}

func (c *counters) Snapshot() Stats {
	return Stats{
		SendSuccess: c.sendSuccess.Load(),
		SendFail:    c.sendFail.Load(),
		LogCount:    c.logCount.Load(),
		DropCount:   c.dropCount.Load(),
	}
}
