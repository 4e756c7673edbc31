package world

import "time"

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Entities       int `json:"entities"`
	BuildingBlocks int `json:"building_blocks"`
	Buildings      int `json:"buildings"`

	KilledTotal         uint64 `json:"killed_total"`
	NetworkUpdatesTotal uint64 `json:"network_updates_total"`
	JobsTotal           uint64 `json:"jobs_total"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Jobs  int `json:"jobs"`
	Admin int `json:"admin"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) publishMetrics(stepDur time.Duration) {
	m := WorldMetrics{
		Tick:                w.tick.Load(),
		Entities:            len(w.entities),
		KilledTotal:         w.killed,
		NetworkUpdatesTotal: w.netUpdates,
		JobsTotal:           w.jobsRun,
		QueueDepths:         QueueDepths{Jobs: len(w.jobs), Admin: len(w.admin)},
		StepMS:              float64(stepDur.Microseconds()) / 1000,
	}
	buildings := map[uint32]struct{}{}
	for _, e := range w.entities {
		if !e.IsBuildingBlock() {
			continue
		}
		m.BuildingBlocks++
		if e.building != 0 {
			buildings[e.building] = struct{}{}
		}
	}
	m.Buildings = len(buildings)
	w.metrics.Store(m)
}
