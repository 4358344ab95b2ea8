// Package coordinator drives the kernel's tick protocol: a strict sequence
// of phases (decay, measurement, pressure query & activation, proposal,
// selection, apply, complete) over a fixed set of region actors, sensor
// actors, and a pool of patch proposers. Concurrency is intra-phase; phase
// boundaries are synchronization points — every Phase N+1 effect observes
// every Phase N effect, by construction, because the coordinator only
// advances once every goroutine it fanned out in Phase N has reported back
// or been abandoned at its deadline.
package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pressurefield/kernel/internal/config"
	"github.com/pressurefield/kernel/internal/correlation"
	"github.com/pressurefield/kernel/internal/kernelerr"
	"github.com/pressurefield/kernel/internal/metrics"
	"github.com/pressurefield/kernel/internal/pressure"
	"github.com/pressurefield/kernel/internal/proposer"
	"github.com/pressurefield/kernel/internal/region"
	"github.com/pressurefield/kernel/internal/regionactor"
	"github.com/pressurefield/kernel/internal/sensoractor"
)

// measurementKey is what the measurement in-flight table remembers per
// outstanding correlation id: which region and sensor the reply belongs to.
type measurementKey struct {
	region region.ID
	sensor string
}

// Coordinator owns the kernel's region actors, sensor actors, and proposer
// pool, and drives ticks over them. It holds no region state itself —
// every region actor is the sole owner of its own mutable state — the
// coordinator only sequences phases and routes messages.
type Coordinator struct {
	cfg  config.Config
	axes []pressure.Axis
	log  *zap.Logger
	m    *metrics.Metrics

	regions    map[region.ID]*regionactor.Actor
	regionIDs  []region.ID // fixed iteration order, set at construction
	sensors    []*sensoractor.Actor
	proposers  []proposer.Proposer
	proposerAt int // round-robin cursor over proposers, touched only in Tick

	measurements *correlation.Table[measurementKey]
	proposals    *correlation.Table[region.ID]

	driversMu sync.Mutex
	drivers   []TickDriver

	tickSeq uint64
}

// TickDriver is the external tick-driver interface: a registered handle
// that receives TickComplete after every tick. A driver that panics or
// blocks indefinitely is the driver's own problem; OnTickComplete should
// return quickly.
type TickDriver interface {
	OnTickComplete(result Result)
}

// New constructs a coordinator over a fixed region set. store is the
// artifact capability backing every region actor; regionIDs enumerates the
// artifact's regions at construction time (the coordinator does not
// discover new regions mid-run — that requires a restart against the
// re-parsed artifact).
func New(
	cfg config.Config,
	store regionactor.Store,
	regionIDs []region.ID,
	sensors []sensoractor.Sensor,
	proposers []proposer.Proposer,
	m *metrics.Metrics,
	log *zap.Logger,
) (*Coordinator, error) {
	axes, err := pressure.Compile(cfg.PressureAxes)
	if err != nil {
		return nil, err
	}

	remeasurer := newSensorRemeasurer(sensors)
	actorCfg := regionactor.Config{
		EMAAlpha:             cfg.Decay.EMAAlpha,
		FitnessHalfLifeMs:    cfg.Decay.FitnessHalfLifeMs,
		ConfidenceHalfLifeMs: cfg.Decay.ConfidenceHalfLifeMs,
		InhibitMs:            cfg.Activation.InhibitMs,
	}

	regions := make(map[region.ID]*regionactor.Actor, len(regionIDs))
	for _, id := range regionIDs {
		a, err := regionactor.New(id, store, remeasurer, axes, actorCfg, log)
		if err != nil {
			return nil, err
		}
		regions[id] = a
	}

	sensorActors := make([]*sensoractor.Actor, 0, len(sensors))
	for _, s := range sensors {
		sensorActors = append(sensorActors, sensoractor.New(s, log))
	}

	return &Coordinator{
		cfg:          cfg,
		axes:         axes,
		log:          log,
		m:            m,
		regions:      regions,
		regionIDs:    append([]region.ID(nil), regionIDs...),
		sensors:      sensorActors,
		proposers:    proposers,
		measurements: correlation.NewTable[measurementKey](),
		proposals:    correlation.NewTable[region.ID](),
	}, nil
}

// RegisterTickDriver adds an external handle notified after every tick.
func (c *Coordinator) RegisterTickDriver(d TickDriver) {
	c.driversMu.Lock()
	defer c.driversMu.Unlock()
	c.drivers = append(c.drivers, d)
}

// Stop terminates every region and sensor actor's mailbox goroutine.
func (c *Coordinator) Stop() {
	for _, a := range c.regions {
		a.Stop()
	}
	for _, s := range c.sensors {
		s.Stop()
	}
}

// Tick drives one full pass of the seven-phase protocol and returns the
// tick's result. It never returns an error: a tick's own truth is its
// Result, which always emits, even when every region was skipped.
func (c *Coordinator) Tick(nowMs int64) Result {
	c.tickSeq++
	tickID := c.tickSeq
	start := time.Now()

	c.phaseDecay(nowMs)
	c.phaseMeasurement(nowMs)
	activated, totalPressure := c.phasePressureQuery(nowMs)
	proposals := c.phaseProposal(activated)
	selected := c.phaseSelection(proposals)
	applied, rejected := c.phaseApply(selected, nowMs)

	proposalsReturned := 0
	for _, p := range proposals {
		if p.replied {
			proposalsReturned++
		}
	}

	result := Result{
		TickID:            tickID,
		TotalPressure:     totalPressure,
		Applied:           applied,
		Rejected:          rejected,
		ProposalsIssued:   len(proposals),
		ProposalsReturned: proposalsReturned,
		PatchesApplied:    len(applied),
		PatchesRejected:   len(rejected),
	}

	if c.m != nil {
		c.m.TickTotal.Inc()
		c.m.TickDuration.Observe(time.Since(start).Seconds())
		c.m.TotalPressure.Set(totalPressure)
		c.m.RegionsActivated.Set(float64(len(activated)))
		c.m.PatchesAppliedTotal.Add(float64(len(applied)))
		for _, r := range rejected {
			c.m.PatchesRejectedTotal.WithLabelValues(r.Reason).Inc()
		}
	}

	c.driversMu.Lock()
	drivers := append([]TickDriver(nil), c.drivers...)
	c.driversMu.Unlock()
	for _, d := range drivers {
		d.OnTickComplete(result)
	}

	return result
}

// --- Phase 1: Decay ---

func (c *Coordinator) phaseDecay(nowMs int64) {
	phaseStart := time.Now()
	var g errgroup.Group
	for _, id := range c.regionIDs {
		a := c.regions[id]
		g.Go(func() error {
			a.ApplyDecay(nowMs)
			return nil
		})
	}
	_ = g.Wait() // ApplyDecay never errors; Wait only blocks for completion.
	c.observePhase("decay", phaseStart)
}

// --- Phase 2: Measurement ---

func (c *Coordinator) phaseMeasurement(nowMs int64) {
	phaseStart := time.Now()
	if len(c.sensors) == 0 {
		c.observePhase("measurement", phaseStart)
		return
	}

	resultsCh := make(chan sensoractor.Result, len(c.regionIDs)*len(c.sensors))

	// deadlineAt tracks each outstanding correlation id's own absolute
	// deadline, since a per-sensor override (config.SensorConfig.DeadlineMs)
	// lets one slow sensor time out independently of the phase-wide
	// default (SPEC_FULL §C.2) rather than all outstanding measurements
	// sharing a single phase timer.
	deadlineAt := make(map[correlation.ID]time.Time, len(c.regionIDs)*len(c.sensors))
	phaseDeadline := time.Duration(c.cfg.Phases.MeasurementDeadlineMs) * time.Millisecond

	for _, id := range c.regionIDs {
		view := c.regions[id].Snapshot()
		for _, s := range c.sensors {
			corrID := correlation.New()
			c.measurements.Put(corrID, measurementKey{region: id, sensor: s.Name()})
			deadlineAt[corrID] = phaseStart.Add(c.sensorDeadline(s.Name(), phaseDeadline))
			s.MeasureRegion(corrID, view, resultsCh)
		}
	}

	for len(deadlineAt) > 0 {
		wait := earliestDeadline(deadlineAt).Sub(time.Now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case res := <-resultsCh:
			timer.Stop()
			if _, outstanding := deadlineAt[res.CorrelationID]; !outstanding {
				// Already resolved by a prior expiry sweep: a duplicate or
				// very late reply, harmless to drop.
				continue
			}
			delete(deadlineAt, res.CorrelationID)
			key, ok := c.measurements.Take(res.CorrelationID)
			if !ok {
				if c.m != nil {
					c.m.ProtocolViolationsTotal.Inc()
				}
				c.log.Warn("coordinator: measurement reply with unknown correlation id")
				continue
			}
			if res.Err != nil {
				continue
			}
			if a, ok := c.regions[key.region]; ok {
				a.IngestMeasurement(key.sensor, res.Signals)
			}
		case <-timer.C:
			now := time.Now()
			expired := 0
			for corrID, dl := range deadlineAt {
				if !dl.After(now) {
					delete(deadlineAt, corrID)
					if _, ok := c.measurements.Take(corrID); ok {
						expired++
					}
				}
			}
			if c.m != nil && expired > 0 {
				c.m.CorrelationsPurgedTotal.WithLabelValues("measurement").Add(float64(expired))
			}
		}
	}
	c.observePhase("measurement", phaseStart)
}

// sensorDeadline resolves the deadline a sensor's outstanding
// measurements get: its own override if configured and positive,
// otherwise the phase-wide default.
func (c *Coordinator) sensorDeadline(sensorName string, phaseDefault time.Duration) time.Duration {
	if sc, ok := c.cfg.Sensors[sensorName]; ok && sc.DeadlineMs > 0 {
		return time.Duration(sc.DeadlineMs) * time.Millisecond
	}
	return phaseDefault
}

// earliestDeadline returns the soonest absolute deadline still
// outstanding. deadlines is never empty when called (the loop condition
// guards it).
func earliestDeadline(deadlines map[correlation.ID]time.Time) time.Time {
	var earliest time.Time
	first := true
	for _, dl := range deadlines {
		if first || dl.Before(earliest) {
			earliest = dl
			first = false
		}
	}
	return earliest
}

// activatedRegion is one region selected during Phase 3.
type activatedRegion struct {
	id         region.ID
	pressure   float64
	fitness    float64
	confidence float64
	signals    region.Signals
}

// --- Phase 3: Pressure query & activation ---

func (c *Coordinator) phasePressureQuery(nowMs int64) (activated []activatedRegion, totalPressure float64) {
	phaseStart := time.Now()
	activated = make([]activatedRegion, 0, len(c.regionIDs))
	for _, id := range c.regionIDs {
		resp := c.regions[id].QueryPressure(nowMs)
		totalPressure += resp.Pressure
		if c.m != nil {
			c.m.RegionPressure.WithLabelValues(id.String()).Set(resp.Pressure)
			c.m.RegionFitness.WithLabelValues(id.String()).Set(resp.Fitness)
			c.m.RegionConfidence.WithLabelValues(id.String()).Set(resp.Confidence)
		}
		if resp.Inhibited {
			continue
		}
		if resp.Pressure < c.cfg.Activation.MinTotalPressure {
			continue
		}
		if !resp.AnySupport {
			continue
		}
		activated = append(activated, activatedRegion{
			id:         id,
			pressure:   resp.Pressure,
			fitness:    resp.Fitness,
			confidence: resp.Confidence,
			signals:    resp.Signals,
		})
	}

	sort.Slice(activated, func(i, j int) bool {
		if activated[i].pressure != activated[j].pressure {
			return activated[i].pressure > activated[j].pressure
		}
		return activated[i].id.Less(activated[j].id)
	})

	c.observePhase("pressure_query", phaseStart)
	return activated, totalPressure
}

// --- Phase 4: Proposal ---

// proposalResult pairs a region with whatever the proposer pool returned
// for it (possibly nothing, if its proposer missed the deadline).
type proposalResult struct {
	region  region.ID
	view    region.View
	patches []proposer.Scored
	// replied records whether the proposer's reply was actually matched
	// to this request before the phase deadline, independent of whether
	// the reply carried any patches; it feeds TickComplete's exact
	// proposals_returned accounting.
	replied bool
}

func (c *Coordinator) phaseProposal(activated []activatedRegion) []proposalResult {
	phaseStart := time.Now()
	k := c.cfg.Selection.MaxPatchesPerTick
	if k > len(activated) {
		k = len(activated)
	}
	selected := activated[:k]

	results := make([]proposalResult, len(selected))
	for i, ar := range selected {
		results[i] = proposalResult{region: ar.id}
	}

	if k == 0 || len(c.proposers) == 0 {
		c.observePhase("proposal", phaseStart)
		return results
	}

	type reply struct {
		idx      int
		proposal proposer.Proposal
	}
	repliesCh := make(chan reply, k)

	// sem caps proposer concurrency at K, the configured
	// max_patches_per_tick, per config.SelectionConfig.MaxPatchesPerTick —
	// an explicit bound rather than an accident of how many goroutines
	// this phase happens to spawn.
	sem := semaphore.NewWeighted(int64(k))
	semCtx := context.Background()

	for i, ar := range selected {
		view := c.regions[ar.id].Snapshot()
		results[i].view = view

		corrID := correlation.New()
		c.proposals.Put(corrID, ar.id)
		p := c.proposers[c.proposerAt%len(c.proposers)]
		c.proposerAt++

		req := proposer.Request{
			CorrelationID: corrID,
			RegionID:      ar.id,
			View:          view,
			Signals:       ar.signals,
			Pressure:      ar.pressure,
		}
		if err := sem.Acquire(semCtx, 1); err != nil {
			// Background context never cancels; Acquire only blocks.
			continue
		}
		go func(idx int, p proposer.Proposer, req proposer.Request) {
			defer sem.Release(1)
			repliesCh <- reply{idx: idx, proposal: p.Propose(req)}
		}(i, p, req)
	}

	deadline := time.Duration(c.cfg.Phases.ProposalDeadlineMs) * time.Millisecond
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	received := 0
	for received < k {
		select {
		case r := <-repliesCh:
			received++
			if _, ok := c.proposals.Take(r.proposal.CorrelationID); !ok {
				if c.m != nil {
					c.m.ProtocolViolationsTotal.Inc()
				}
				c.log.Warn("coordinator: proposal reply with unknown correlation id")
				continue
			}
			results[r.idx].patches = r.proposal.Patches
			results[r.idx].replied = true
		case <-timer.C:
			purged := c.proposals.PurgeAll()
			if c.m != nil && len(purged) > 0 {
				c.m.CorrelationsPurgedTotal.WithLabelValues("proposal").Add(float64(len(purged)))
			}
			c.observePhase("proposal", phaseStart)
			return results
		}
	}

	c.observePhase("proposal", phaseStart)
	return results
}

// --- Phase 5: Selection ---

// selectedPatch is one region's chosen patch, ready for dispatch.
type selectedPatch struct {
	region region.ID
	patch  region.Patch
}

func (c *Coordinator) phaseSelection(proposals []proposalResult) []selectedPatch {
	phaseStart := time.Now()
	var selected []selectedPatch
	minImprovement := c.cfg.Selection.MinExpectedImprovement

	for _, pr := range proposals {
		if len(pr.patches) == 0 {
			continue
		}
		var best *proposer.Scored
		for i := range pr.patches {
			cand := pr.patches[i]
			improvement := pressure.ExpectedImprovement(c.axes, pr.view.Kind, cand.Patch.ExpectedDelta)
			if improvement < minImprovement {
				continue
			}
			if best == nil || cand.Score > best.Score {
				best = &pr.patches[i]
			}
		}
		if best == nil {
			continue
		}
		selected = append(selected, selectedPatch{region: pr.region, patch: best.Patch})
	}

	c.observePhase("selection", phaseStart)
	return selected
}

// --- Phase 6: Apply ---

func (c *Coordinator) phaseApply(selected []selectedPatch, nowMs int64) ([]AppliedRecord, []RejectedRecord) {
	phaseStart := time.Now()
	if len(selected) == 0 {
		c.observePhase("apply", phaseStart)
		return nil, nil
	}

	type outcome struct {
		region region.ID
		result regionactor.PatchResult
	}
	outcomes := make([]outcome, len(selected))

	var g errgroup.Group
	for i, sp := range selected {
		i, sp := i, sp
		g.Go(func() error {
			a, ok := c.regions[sp.region]
			if !ok {
				outcomes[i] = outcome{region: sp.region, result: regionactor.PatchResult{
					Reason: kernelerr.ReasonString(kernelerr.ErrRegionMissing),
				}}
				return nil
			}
			outcomes[i] = outcome{region: sp.region, result: a.ApplyPatch(sp.patch, nowMs)}
			return nil
		})
	}
	_ = g.Wait() // each region's apply is independent and never errors.

	var applied []AppliedRecord
	var rejected []RejectedRecord
	for _, o := range outcomes {
		if o.result.Applied {
			applied = append(applied, AppliedRecord{
				Region:      o.region,
				OldPressure: o.result.OldPressure,
				NewPressure: o.result.NewPressure,
			})
		} else {
			rejected = append(rejected, RejectedRecord{
				Region:      o.region,
				OldPressure: o.result.OldPressure,
				NewPressure: o.result.NewPressure,
				Reason:      o.result.Reason,
			})
		}
	}

	c.observePhase("apply", phaseStart)
	return applied, rejected
}

func (c *Coordinator) observePhase(phase string, start time.Time) {
	if c.m != nil {
		c.m.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}
