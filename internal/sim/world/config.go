package world

type WorldConfig struct {
	ID         string
	TickRateHz int

	// SnapshotEveryTicks emits a restart image to the snapshot sink. Zero
	// disables periodic snapshots; RequestSnapshot still works.
	SnapshotEveryTicks int

	// JobQueue bounds how many Do calls may wait for the next tick.
	JobQueue int
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 10
	}
	if c.SnapshotEveryTicks < 0 {
		c.SnapshotEveryTicks = 0
	}
	if c.JobQueue <= 0 {
		c.JobQueue = 256
	}
}
