// Package sensoractor wraps a pluggable Sensor capability in a stateless
// mailbox actor: on MeasureRegion it invokes the sensor, maps the result
// to a signal map, and reports it back tagged with the sensor's name and
// the request's correlation id.
package sensoractor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pressurefield/kernel/internal/correlation"
	"github.com/pressurefield/kernel/internal/region"
)

// Sensor is the pluggable measurement capability: a pure function of a
// region's kind and content. Sensors must not retain or mutate the view
// they are given.
type Sensor interface {
	Name() string
	Measure(view region.View) (region.Signals, error)
}

// Result is what a sensor actor reports back to the coordinator after a
// MeasureRegion request, whether or not the measurement succeeded.
type Result struct {
	CorrelationID correlation.ID
	RegionID      region.ID
	Sensor        string
	Signals       region.Signals
	Err           error
}

// Actor is a stateless wrapper around one Sensor, run on its own mailbox
// goroutine so a slow or misbehaving sensor never blocks another sensor's
// measurements.
type Actor struct {
	sensor  Sensor
	log     *zap.Logger
	mailbox chan request
	done    chan struct{}
}

type request struct {
	corrID correlation.ID
	view   region.View
	out    chan<- Result
}

// New starts a sensor actor wrapping the given Sensor.
func New(sensor Sensor, log *zap.Logger) *Actor {
	a := &Actor{
		sensor:  sensor,
		log:     log.With(zap.String("sensor", sensor.Name())),
		mailbox: make(chan request, 64),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Name returns the wrapped sensor's name.
func (a *Actor) Name() string { return a.sensor.Name() }

// Stop terminates the mailbox goroutine.
func (a *Actor) Stop() {
	close(a.mailbox)
	<-a.done
}

// MeasureRegion queues a measurement request; the result is delivered
// asynchronously on out so the coordinator can fan out across many
// regions and sensors without blocking per-request.
func (a *Actor) MeasureRegion(corrID correlation.ID, view region.View, out chan<- Result) {
	a.mailbox <- request{corrID: corrID, view: view, out: out}
}

func (a *Actor) run() {
	defer close(a.done)
	for req := range a.mailbox {
		req.out <- a.measure(req)
	}
}

// measure invokes the wrapped sensor, recovering from a panic so a
// misbehaving sensor only loses its own tick's measurement instead of
// killing the actor's mailbox goroutine.
func (a *Actor) measure(req request) (result Result) {
	result = Result{CorrelationID: req.corrID, RegionID: req.view.ID, Sensor: a.sensor.Name()}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("sensor measurement panicked, dropping result",
				zap.String("region", req.view.ID.String()), zap.Any("panic", r))
			result.Err = fmt.Errorf("sensoractor: sensor %q panicked: %v", a.sensor.Name(), r)
		}
	}()

	signals, err := a.sensor.Measure(req.view)
	if err != nil {
		a.log.Warn("sensor measurement failed, dropping result",
			zap.String("region", req.view.ID.String()), zap.Error(err))
	}
	result.Signals = signals
	result.Err = err
	return result
}
