package coordinator

import (
	"github.com/pressurefield/kernel/internal/region"
	"github.com/pressurefield/kernel/internal/sensoractor"
)

// sensorRemeasurer implements regionactor.Remeasurer by invoking every
// wrapped sensor directly against a content snapshot, bypassing the sensor
// actors' mailboxes entirely. A region actor calls Remeasure from inside
// its own mailbox goroutine during patch application; routing back through
// a sensor actor's mailbox would add a second asynchronous hop for no
// benefit, since the sensor call itself is already expected to be quick
// and synchronous here.
type sensorRemeasurer struct {
	sensors []sensoractor.Sensor
}

func newSensorRemeasurer(sensors []sensoractor.Sensor) *sensorRemeasurer {
	return &sensorRemeasurer{sensors: sensors}
}

// Remeasure implements regionactor.Remeasurer.
func (r *sensorRemeasurer) Remeasure(kind string, content []byte) region.Signals {
	view := region.View{Kind: kind, Content: content}
	out := make(region.Signals)
	for _, s := range r.sensors {
		signals, err := s.Measure(view)
		if err != nil {
			continue
		}
		for name, v := range signals {
			out[name] = v
		}
	}
	return out
}
