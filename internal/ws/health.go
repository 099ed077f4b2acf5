package ws

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/stepsnap/stepsnap/internal/pipeline"
)

type Health struct {
	Status      string  `json:"status"`
	Session     string  `json:"session"`
	Steps       int     `json:"steps"`
	MaxSteps    int     `json:"maxSteps"`
	InFlight    bool    `json:"inFlight"`
	Subscribers int     `json:"subscribers"`
	UptimeSec   int64   `json:"uptimeSec"`
	RSSBytes    uint64  `json:"rssBytes,omitempty"`
	CPUPercent  float64 `json:"cpuPercent,omitempty"`
}

// HealthReporter describes the orchestrator and the server process.
type HealthReporter struct {
	orch    *pipeline.Orchestrator
	proc    *process.Process
	started time.Time
}

func NewHealthReporter(orch *pipeline.Orchestrator) *HealthReporter {
	h := &HealthReporter{orch: orch, started: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		h.proc = p
	}
	return h
}

// Report never fails; process stats are omitted when unavailable.
func (h *HealthReporter) Report(ctx context.Context, subscribers int) Health {
	store := h.orch.Store()
	out := Health{
		Status:      "ok",
		Session:     store.Status().String(),
		Steps:       store.StepCount(),
		MaxSteps:    h.orch.MaxSteps(),
		InFlight:    h.orch.InFlight(),
		Subscribers: subscribers,
		UptimeSec:   int64(time.Since(h.started).Seconds()),
	}
	if h.proc == nil {
		return out
	}
	if mem, err := h.proc.MemoryInfoWithContext(ctx); err == nil {
		out.RSSBytes = mem.RSS
	}
	if cpu, err := h.proc.CPUPercentWithContext(ctx); err == nil {
		out.CPUPercent = cpu
	}
	return out
}
