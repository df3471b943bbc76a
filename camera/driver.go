package camera

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Driver constructs an unopened Handle for the camera in slot index (0-based)
// with the configured serial number
type Driver func(index int, serial string) (Handle, error)

// ErrDriverNotFound is generated when a driver is looked up by a name that
// was never registered
type ErrDriverNotFound struct {
	// Name is the driver name requested
	Name string
}

// Error satisfies the error interface
func (e ErrDriverNotFound) Error() string {
	return fmt.Sprintf("camera driver %q not registered, known drivers: %s", e.Name, strings.Join(Drivers(), ", "))
}

var (
	driversMu sync.Mutex
	drivers   = map[string]Driver{}
)

// Register makes a driver available under name.  Vendor bindings call this
// from an init function.
func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[strings.ToLower(name)] = d
}

// Lookup returns the driver registered under name
func Lookup(name string) (Driver, error) {
	driversMu.Lock()
	defer driversMu.Unlock()
	d, ok := drivers[strings.ToLower(name)]
	if !ok {
		return nil, ErrDriverNotFound{Name: name}
	}
	return d, nil
}

// Drivers lists the registered driver names
func Drivers() []string {
	driversMu.Lock()
	defer driversMu.Unlock()
	names := make([]string, 0, len(drivers))
	for k := range drivers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SimDriver returns a driver producing simulated cameras sharing cfg.  Each
// slot gets its own noise seed.
func SimDriver(cfg SimConfig) Driver {
	return func(index int, serial string) (Handle, error) {
		c := cfg
		c.Seed = cfg.Seed + int64(index)
		return NewSim(serial, c), nil
	}
}

func init() {
	Register("sim", SimDriver(SimConfig{Readout: SimReadout, Bias: 1000, Noise: 5}))
}
