package workers

import (
	"context"
	"log/slog"
	gort "runtime"
	"time"

	"chat-relay/contract"

	"github.com/shirou/gopsutil/process"
)

// TelemetryWorker periodically logs process health (RSS, CPU, goroutines)
// together with the number of users currently online. It observes only;
// losing a tick has no effect on the relay.
type TelemetryWorker struct {
	log      *slog.Logger
	presence contract.IPresence
	pid      int32
	interval time.Duration
}

func NewTelemetryWorker(log *slog.Logger, presence contract.IPresence, pid int, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, presence: presence, pid: int32(pid), interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	w.log.Info("Starting telemetry worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(w.pid)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.log.Info("Server stats",
				"online_users", w.presence.Count(),
				"goroutines", gort.NumGoroutine(),
				"ram_bytes", rss,
				"cpu_percent", cpu,
			)
		}
	}
}

func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
