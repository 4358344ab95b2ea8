// Package regionactor implements the per-region actor: the sole owner of
// one region's mutable state (signals, fitness, confidence, inhibition,
// version), driven by a single mailbox goroutine so state mutation is
// always single-writer with no locks.
//
// State transition graph:
//
//	Idle ──(RegionApplyPatch)──> Applying ──(reply sent)──> Idle
//
// Measurements and queries arriving while Applying are simply the next
// mailbox entries; the mailbox's strict FIFO processing is what gives the
// "no reentrancy, serialized applies" property, not a lock.
package regionactor

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/pressurefield/kernel/internal/kernelerr"
	"github.com/pressurefield/kernel/internal/pressure"
	"github.com/pressurefield/kernel/internal/region"
)

// epsilon is the tolerance used when comparing pre/post apply pressure for
// strict reduction.
const epsilon = 1e-9

// State names the region actor's coarse lifecycle position, reported in
// logs and diagnostics.
type State uint8

const (
	StateIdle State = iota
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// Store is the slice of the artifact capability a region actor needs: read
// its own current view and apply a patch to it.
type Store interface {
	ReadRegion(id region.ID) (region.View, error)
	ApplyPatch(p region.Patch) (region.View, error)
}

// Remeasurer re-invokes the kernel's sensor set inline against a content
// snapshot, used for the post-apply re-measurement the acceptance rule
// requires. It must be referentially transparent the same way a Sensor is.
type Remeasurer interface {
	Remeasure(kind string, content []byte) region.Signals
}

// PressureResponse answers QueryPressure.
type PressureResponse struct {
	Pressure   float64
	Fitness    float64
	Confidence float64
	Inhibited  bool
	// AnySupport reports whether at least one axis had a supporting signal
	// and a nonzero contribution, the activation clause beyond the raw
	// pressure threshold.
	AnySupport bool
	// Signals is a snapshot of the region's current smoothed signal map,
	// handed to a patch proposer alongside the region view.
	Signals region.Signals
}

// PatchResult answers RegionApplyPatch.
type PatchResult struct {
	Applied     bool
	OldPressure float64
	NewPressure float64
	Reason      string
}

// Actor is one region's mailbox-driven owner.
type Actor struct {
	id        region.ID
	store     Store
	remeasure Remeasurer
	axes      []pressure.Axis
	log       *zap.Logger

	emaAlpha             float64
	fitnessHalfLifeMs    int64
	confidenceHalfLifeMs int64
	inhibitMs            int64

	mailbox chan any
	done    chan struct{}

	// mutable state, touched only inside run()
	state            State
	kind             string
	version          uint64
	signals          region.Signals
	fitness          float64
	confidence       float64
	decayTouched     bool
	lastTouchMs      int64
	lastAppliedMs    int64
	inhibitedUntilMs int64
}

// Config bundles the decay/smoothing parameters an Actor needs, kept
// separate from config.Config so the actor package doesn't depend on the
// coordinator's full configuration shape.
type Config struct {
	EMAAlpha             float64
	FitnessHalfLifeMs    int64
	ConfidenceHalfLifeMs int64
	InhibitMs            int64
}

// New constructs and starts a region actor's mailbox goroutine. The
// initial view is read from store immediately.
func New(id region.ID, store Store, remeasure Remeasurer, axes []pressure.Axis, cfg Config, log *zap.Logger) (*Actor, error) {
	view, err := store.ReadRegion(id)
	if err != nil {
		return nil, fmt.Errorf("regionactor: initial read of %s: %w", id, err)
	}
	a := &Actor{
		id:                   id,
		store:                store,
		remeasure:            remeasure,
		axes:                 axes,
		log:                  log.With(zap.String("region", id.String())),
		emaAlpha:             cfg.EMAAlpha,
		fitnessHalfLifeMs:    cfg.FitnessHalfLifeMs,
		confidenceHalfLifeMs: cfg.ConfidenceHalfLifeMs,
		inhibitMs:            cfg.InhibitMs,
		mailbox:              make(chan any, 64),
		done:                 make(chan struct{}),
		state:                StateIdle,
		kind:                 view.Kind,
		version:              view.Version,
		signals:              make(region.Signals),
	}
	go a.run()
	return a, nil
}

// ID returns the region id this actor owns.
func (a *Actor) ID() region.ID { return a.id }

// Stop terminates the mailbox goroutine. No further messages may be sent.
func (a *Actor) Stop() {
	close(a.mailbox)
	<-a.done
}

// --- mailbox message types ---

type applyDecayMsg struct {
	nowMs int64
	reply chan struct{}
}

type measurementMsg struct {
	sensor  string
	signals region.Signals
}

type queryPressureMsg struct {
	nowMs int64
	reply chan PressureResponse
}

type applyPatchMsg struct {
	patch region.Patch
	nowMs int64
	reply chan PatchResult
}

type snapshotMsg struct {
	reply chan region.View
}

// ApplyDecay sends Phase 1's decay broadcast and blocks until acknowledged.
func (a *Actor) ApplyDecay(nowMs int64) {
	reply := make(chan struct{})
	a.mailbox <- applyDecayMsg{nowMs: nowMs, reply: reply}
	<-reply
}

// IngestMeasurement delivers one sensor's result asynchronously; it does
// not block on a reply.
func (a *Actor) IngestMeasurement(sensor string, signals region.Signals) {
	a.mailbox <- measurementMsg{sensor: sensor, signals: signals}
}

// QueryPressure computes the region's current pressure and activation
// inputs.
func (a *Actor) QueryPressure(nowMs int64) PressureResponse {
	reply := make(chan PressureResponse, 1)
	a.mailbox <- queryPressureMsg{nowMs: nowMs, reply: reply}
	return <-reply
}

// ApplyPatch validates and applies (or rejects) a candidate patch.
func (a *Actor) ApplyPatch(patch region.Patch, nowMs int64) PatchResult {
	reply := make(chan PatchResult, 1)
	a.mailbox <- applyPatchMsg{patch: patch, nowMs: nowMs, reply: reply}
	return <-reply
}

// Snapshot returns the region's current view, for building measurement and
// proposal requests. Its Version is the actor's own version, the one
// ApplyPatch compares a patch's BaseVersion against.
func (a *Actor) Snapshot() region.View {
	reply := make(chan region.View, 1)
	a.mailbox <- snapshotMsg{reply: reply}
	return <-reply
}

func (a *Actor) run() {
	defer close(a.done)
	for msg := range a.mailbox {
		switch m := msg.(type) {
		case applyDecayMsg:
			a.handleDecay(m.nowMs)
			close(m.reply)
		case measurementMsg:
			a.handleMeasurement(m)
		case queryPressureMsg:
			m.reply <- a.handleQuery(m.nowMs)
		case applyPatchMsg:
			m.reply <- a.handleApply(m.patch, m.nowMs)
		case snapshotMsg:
			m.reply <- a.currentView()
		default:
			a.log.Error("regionactor: unknown mailbox message", zap.String("type", fmt.Sprintf("%T", msg)))
		}
	}
}

func (a *Actor) currentView() region.View {
	view, err := a.store.ReadRegion(a.id)
	if err != nil {
		a.log.Warn("regionactor: snapshot read failed", zap.Error(err))
		return region.View{ID: a.id, Kind: a.kind, Version: a.version}
	}
	view.Version = a.version
	return view
}

func (a *Actor) handleDecay(nowMs int64) {
	if !a.decayTouched {
		a.decayTouched = true
		a.lastTouchMs = nowMs
		return
	}
	dt := float64(nowMs - a.lastTouchMs)
	a.fitness = decay(a.fitness, dt, a.fitnessHalfLifeMs)
	a.confidence = decay(a.confidence, dt, a.confidenceHalfLifeMs)
	a.lastTouchMs = nowMs
}

// decay applies fitness *= 2^(-dt/H); H == 0 disables decay on that
// channel.
func decay(value, dtMs float64, halfLifeMs int64) float64 {
	if halfLifeMs <= 0 {
		return value
	}
	return value * math.Exp2(-dtMs/float64(halfLifeMs))
}

func (a *Actor) handleMeasurement(m measurementMsg) {
	for name, v := range m.signals {
		if old, ok := a.signals[name]; ok {
			a.signals[name] = a.emaAlpha*v + (1-a.emaAlpha)*old
		} else {
			a.signals[name] = v
		}
	}
}

func (a *Actor) handleQuery(nowMs int64) PressureResponse {
	result := pressure.Evaluate(a.axes, a.signals, a.kind)
	inhibited := a.inhibitMs > 0 && nowMs < a.inhibitedUntilMs
	return PressureResponse{
		Pressure:   result.Total,
		Fitness:    a.fitness,
		Confidence: a.confidence,
		Inhibited:  inhibited,
		AnySupport: result.AnySupport,
		Signals:    a.signals.Clone(),
	}
}

func (a *Actor) handleApply(patch region.Patch, nowMs int64) PatchResult {
	a.state = StateApplying
	defer func() { a.state = StateIdle }()

	oldResult := pressure.Evaluate(a.axes, a.signals, a.kind)
	oldPressure := oldResult.Total

	if patch.BaseVersion != a.version {
		return PatchResult{Applied: false, OldPressure: oldPressure, NewPressure: oldPressure, Reason: kernelerr.ReasonString(kernelerr.ErrStaleVersion)}
	}

	expectedImprovement := pressure.ExpectedImprovement(a.axes, a.kind, patch.ExpectedDelta)
	if expectedImprovement < 0 {
		return PatchResult{Applied: false, OldPressure: oldPressure, NewPressure: oldPressure, Reason: kernelerr.ReasonString(kernelerr.ErrDidNotReduce)}
	}

	preView, err := a.store.ReadRegion(a.id)
	if err != nil {
		return PatchResult{Applied: false, OldPressure: oldPressure, NewPressure: oldPressure, Reason: kernelerr.ReasonString(kernelerr.ErrRegionMissing)}
	}

	newView, err := a.store.ApplyPatch(patch)
	if err != nil {
		return PatchResult{Applied: false, OldPressure: oldPressure, NewPressure: oldPressure, Reason: kernelerr.ReasonString(kernelerr.ErrInvalidPatch)}
	}

	newSignals := a.remeasure.Remeasure(newView.Kind, newView.Content)
	newResult := pressure.Evaluate(a.axes, newSignals, newView.Kind)

	if !(newResult.Total < oldPressure-epsilon) {
		// The artifact already mutated; restore it with a compensating
		// replace of the pre-apply content. Exact-byte rollback is a
		// best effort, not a transactional guarantee.
		rollback := region.Patch{Region: a.id, Op: region.OpReplace, Bytes: preView.Content, BaseVersion: newView.Version}
		if _, rbErr := a.store.ApplyPatch(rollback); rbErr != nil {
			a.log.Error("regionactor: rollback failed after did_not_reduce", zap.Error(rbErr))
		}
		return PatchResult{Applied: false, OldPressure: oldPressure, NewPressure: newResult.Total, Reason: kernelerr.ReasonString(kernelerr.ErrDidNotReduce)}
	}

	a.signals = newSignals
	a.kind = newView.Kind
	a.version = newView.Version
	a.fitness += oldPressure - newResult.Total
	a.confidence += 1
	if a.inhibitMs > 0 {
		a.inhibitedUntilMs = nowMs + a.inhibitMs
	}
	a.lastAppliedMs = nowMs

	return PatchResult{Applied: true, OldPressure: oldPressure, NewPressure: newResult.Total}
}

