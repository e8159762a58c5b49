package quarry

// Config holds global configuration for the storage engine.
var Config config = config{
	initialCapacity: 8,
}

type config struct {
	// growHint overrides doubling when a table grows; 0 means double.
	growHint int
	// initialCapacity is the row capacity of a table's first allocation.
	initialCapacity    int
	captureHookCallers bool
}

// SetGrowHint fixes the number of rows added when a full table grows.
// A hint of 0 restores geometric doubling.
func (c *config) SetGrowHint(rows int) {
	c.growHint = rows
}

// SetInitialCapacity configures the first allocation of new tables.
func (c *config) SetInitialCapacity(rows int) {
	if rows > 0 {
		c.initialCapacity = rows
	}
}

// SetCaptureHookCallers enables call-site capture for hook contexts.
func (c *config) SetCaptureHookCallers(enabled bool) {
	c.captureHookCallers = enabled
}
