package main

import (
	"fmt"
	"io"
	"net/http"
)

func (a *app) handleMetrics(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	m := a.world.Metrics()
	id := a.world.ID()
	gauge(rw, "hophop_world_tick", "Current world tick.", id, m.Tick)
	gauge(rw, "hophop_world_entities", "Live entities in the world.", id, m.Entities)
	gauge(rw, "hophop_world_building_blocks", "Live building blocks in the world.", id, m.BuildingBlocks)
	gauge(rw, "hophop_world_buildings", "Distinct building groups.", id, m.Buildings)
	counter(rw, "hophop_world_killed_total", "Entities removed from the world.", id, m.KilledTotal)
	counter(rw, "hophop_world_network_updates_total", "Network updates sent for entities.", id, m.NetworkUpdatesTotal)
	counter(rw, "hophop_world_jobs_total", "Jobs run on the world loop.", id, m.JobsTotal)
	gauge(rw, "hophop_world_job_queue_depth", "Jobs waiting for the next tick.", id, m.QueueDepths.Jobs)
	gauge(rw, "hophop_world_step_ms", "Duration of the last world step in milliseconds.", id, m.StepMS)

	busy, undoable := 0, 0
	stats := a.eng.Sessions().Stats()
	for _, s := range stats {
		if s.Busy {
			busy++
		}
		undoable += s.Undoable
	}
	gauge(rw, "hophop_builds_actors", "Actors with a session.", id, len(stats))
	gauge(rw, "hophop_builds_busy_actors", "Actors with an operation in progress.", id, busy)
	gauge(rw, "hophop_builds_undoable_entities", "Entities held in undo lists.", id, undoable)

	if a.idx != nil {
		st := a.idx.Stats()
		gauge(rw, "hophop_index_queue_depth", "Index writer queue depth.", id, st.QueueDepth)
		gauge(rw, "hophop_index_queue_capacity", "Index writer queue capacity.", id, st.QueueCapacity)
		counter(rw, "hophop_index_drop_op_total", "Operation rows dropped because the queue was full.", id, st.DropOpTotal)
		counter(rw, "hophop_index_drop_snapshot_total", "Snapshot rows dropped because the queue was full.", id, st.DropSnapshotTotal)
	}
}

func gauge(w io.Writer, name, help, world string, v any)   { metric(w, "gauge", name, help, world, v) }
func counter(w io.Writer, name, help, world string, v any) { metric(w, "counter", name, help, world, v) }

func metric(w io.Writer, kind, name, help, world string, v any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s{world=%q} %v\n", name, world, v)
}
