// Package entropysensor computes the Shannon entropy of a region's raw
// byte content as a single signal, content_entropy. Low entropy content
// (repetitive, degenerate) and implausibly high entropy content (packed,
// minified, generated) are both worth surfacing as pressure inputs
// alongside issue-count signals.
//
// The formula is the same H = -Σ p(bᵢ) · log₂(p(bᵢ)) used for event-type
// entropy elsewhere in this lineage, computed here over byte-value
// frequency instead of event-type frequency.
package entropysensor

import (
	"math"

	"github.com/pressurefield/kernel/internal/region"
	"github.com/pressurefield/kernel/internal/sensor"
)

// Name is the sensor's stable registry name.
const Name = "entropysensor"

// Sensor computes byte-frequency Shannon entropy. It holds no state and is
// safe for concurrent use across many region measurements.
type Sensor struct{}

// New constructs an entropy sensor.
func New() *Sensor { return &Sensor{} }

func init() {
	sensor.Register(New())
}

// Name implements sensoractor.Sensor.
func (s *Sensor) Name() string { return Name }

// Measure implements sensoractor.Sensor. It is a pure function of the
// view's content and never errors.
func (s *Sensor) Measure(view region.View) (region.Signals, error) {
	return region.Signals{
		"content_entropy": shannonEntropy(view.Content),
	}, nil
}

// shannonEntropy computes H in bits over the byte-value distribution of
// data. Returns 0 for empty input.
func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}
