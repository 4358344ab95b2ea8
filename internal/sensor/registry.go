// Package sensor is the plugin registration point for Sensor
// implementations. A sensor package registers itself in an init()
// function with Register; the kernel's wiring code looks sensors up by
// name from configuration.
//
// Plugin contract:
//   - Measure must be goroutine-safe; the same Sensor is invoked
//     concurrently across regions.
//   - Measure must not panic; the sensor actor recovers but a panicking
//     sensor still loses that tick's measurement.
//   - Measure must be a pure function of (kind, content, metadata).
//   - Name must return a stable, unique string used as the registry key.
package sensor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pressurefield/kernel/internal/region"
)

// Sensor is the pluggable measurement capability registered sensors
// implement. It mirrors sensoractor.Sensor so either package can be
// imported without creating a cycle between them.
type Sensor interface {
	Name() string
	Measure(view region.View) (region.Signals, error)
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Sensor)
)

// Register adds a sensor under its own Name(). Panics if the name is
// already taken, the same fail-fast contract used elsewhere in this
// codebase's plugin registries.
func Register(s Sensor) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[s.Name()]; exists {
		panic(fmt.Sprintf("sensor: %q already registered", s.Name()))
	}
	registry[s.Name()] = s
}

// Get returns the registered sensor with the given name.
func Get(name string) (Sensor, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("sensor: %q not registered (available: %v)", name, names())
	}
	return s, nil
}

// Names returns the names of all registered sensors, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return names()
}

func names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
