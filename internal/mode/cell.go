package mode

import "sync"

// Cell holds the process-wide DeviceConfig. Readers always see a whole
// configuration; writers notify a single listener through Changed.
type Cell struct {
	mu      sync.RWMutex
	cfg     DeviceConfig
	changed chan struct{}
}

// NewCell creates a cell holding cfg.
func NewCell(cfg DeviceConfig) *Cell {
	return &Cell{
		cfg:     cfg,
		changed: make(chan struct{}, 1),
	}
}

// Load returns a copy of the current configuration.
func (c *Cell) Load() DeviceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Store replaces the configuration and signals Changed.
func (c *Cell) Store(cfg DeviceConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.notify()
}

// Apply applies d atomically and returns the resulting configuration. On
// error the cell is unchanged and no change is signalled.
func (c *Cell) Apply(d Delta) (DeviceConfig, error) {
	c.mu.Lock()
	next, err := d.Apply(c.cfg)
	if err != nil {
		c.mu.Unlock()
		return next, err
	}
	c.cfg = next
	c.mu.Unlock()
	c.notify()
	return next, nil
}

// Changed receives a value after one or more updates.
func (c *Cell) Changed() <-chan struct{} {
	return c.changed
}

func (c *Cell) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}
