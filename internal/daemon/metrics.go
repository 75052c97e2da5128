package daemon

import "sync/atomic"

type Metrics struct {
	FilesDiscovered atomic.Int64
	FilesActive     atomic.Int64
	FilesFailed     atomic.Int64
	LinesRead       atomic.Int64
	LinesDropped    atomic.Int64
}

type MetricsSnapshot struct {
	FilesDiscovered int64 `json:"files_discovered"`
	FilesActive     int64 `json:"files_active"`
	FilesFailed     int64 `json:"files_failed"`
	LinesRead       int64 `json:"lines_read"`
	LinesDropped    int64 `json:"lines_dropped"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		FilesDiscovered: m.FilesDiscovered.Load(),
		FilesActive:     m.FilesActive.Load(),
		FilesFailed:     m.FilesFailed.Load(),
		LinesRead:       m.LinesRead.Load(),
		LinesDropped:    m.LinesDropped.Load(),
	}
}
