package nodes

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/i474232898/weatherapi-nodeserver/internal/observability"
	"github.com/i474232898/weatherapi-nodeserver/internal/polyglot"
)

// Hub is the subset of the Polyglot interface the nodes publish through.
type Hub interface {
	SetDriver(address string, d polyglot.Driver) error
	ReportDrivers(address string, drivers []polyglot.Driver) error
	AddNode(n polyglot.NodeDef) error
	UpdateProfile() error
	SetCustomParams(params map[string]string) error
	SetCustomParamsDoc(doc string) error
	AddNotice(key, text string) error
	RemoveNoticesAll() error
}

// node holds the driver table shared by the controller and the weather node.
type node struct {
	hub     Hub
	metrics *observability.Metrics
	def     polyglot.NodeDef

	mu      sync.RWMutex
	drivers []polyglot.Driver
}

func newNode(hub Hub, metrics *observability.Metrics, def polyglot.NodeDef) node {
	drivers := make([]polyglot.Driver, len(def.Drivers))
	copy(drivers, def.Drivers)
	return node{hub: hub, metrics: metrics, def: def, drivers: drivers}
}

// Address returns the node address.
func (n *node) Address() string { return n.def.Address }

// Def returns the addnode definition with the current driver values.
func (n *node) Def() polyglot.NodeDef {
	def := n.def
	def.Drivers = n.Drivers()
	return def
}

// Drivers returns a snapshot of the driver table.
func (n *node) Drivers() []polyglot.Driver {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]polyglot.Driver, len(n.drivers))
	copy(out, n.drivers)
	return out
}

// Driver returns one driver by name.
func (n *node) Driver(name string) (polyglot.Driver, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, d := range n.drivers {
		if d.Driver == name {
			return d, true
		}
	}
	return polyglot.Driver{}, false
}

// setDriver updates a driver and publishes it when the value or text changed.
func (n *node) setDriver(name, value, text string, force bool) error {
	n.mu.Lock()
	idx := -1
	for i, d := range n.drivers {
		if d.Driver == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		n.mu.Unlock()
		return fmt.Errorf("node %s has no driver %s", n.def.Address, name)
	}
	d := n.drivers[idx]
	if !force && d.Value == value && d.Text == text {
		n.mu.Unlock()
		return nil
	}
	d.Value = value
	d.Text = text
	n.drivers[idx] = d
	n.mu.Unlock()

	if err := n.hub.SetDriver(n.def.Address, d); err != nil {
		return fmt.Errorf("set %s.%s: %w", n.def.Address, name, err)
	}
	n.metrics.DriverUpdates.Inc()
	return nil
}

// reportDrivers publishes every driver regardless of change.
func (n *node) reportDrivers() error {
	return n.hub.ReportDrivers(n.def.Address, n.Drivers())
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
