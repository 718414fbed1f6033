package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"go.gridsync.dev/core/dedup"
	"go.gridsync.dev/core/flow"
	"go.gridsync.dev/core/grid"
	"go.gridsync.dev/core/metrics"
	"go.gridsync.dev/core/registry"
	"go.gridsync.dev/core/retry"
	"go.gridsync.dev/core/state"
)

// Runner drives a full synchronization run: all registry sources crossed
// with all flows, optionally restricted to a static shard of the sources.
// Shards partition sources by index, so parallel workers over disjoint
// shards share no dedup-state keys and need no coordination.
type Runner struct {
	Provider grid.Provider
	Store    state.Store
	Flows    []flow.Spec
	Config   *Config
}

// Run executes one synchronization run and returns per-flow Counts. A
// failing unit is logged and contributes zero progress without affecting
// siblings; Run returns an error only for startup failures (master or
// registry unavailable) which occur before any state is touched. A run
// with zero configured sources is a successful no-op.
func (r *Runner) Run(ctx context.Context) (map[string]Counts, error) {
	var cfg = r.Config
	var policy = cfg.RetryPolicy()

	var master grid.Spreadsheet
	var err = retry.Do(ctx, policy, "open-master", func() (oErr error) {
		master, oErr = r.Provider.Open(ctx, cfg.Master)
		return oErr
	})
	if err != nil {
		return nil, errors.WithMessage(err, "opening master spreadsheet")
	}

	var dest grid.Worksheet
	if err = retry.Do(ctx, policy, "open-destination", func() (oErr error) {
		dest, oErr = master.Worksheet(ctx, cfg.TicketsTab)
		return oErr
	}); err != nil {
		return nil, errors.WithMessage(err, "opening destination tab")
	} else if dest == nil {
		return nil, errors.Errorf("destination tab %q not found in master", cfg.TicketsTab)
	}

	// Grow the destination to its fixed width up front. Width is never
	// inferred from a failed write.
	var width = flow.DestinationWidth(r.Flows, cfg.MasterWidthMin)
	if err = retry.Do(ctx, policy, "destination-capacity", func() error {
		return dest.EnsureCapacity(ctx, 3, width)
	}); err != nil {
		log.WithFields(log.Fields{"width": width, "err": err}).
			Warn("failed to grow destination; proceeding")
	}

	sources, err := registry.Load(ctx, master, cfg.SourceTab, policy)
	if err != nil {
		return nil, errors.WithMessage(err, "loading source registry")
	}

	var sharded = shard(sources, cfg.TotalShards, cfg.ShardIndex)
	if cfg.TotalShards > 1 {
		log.WithFields(log.Fields{
			"shard":    cfg.ShardIndex,
			"of":       cfg.TotalShards,
			"sources":  len(sharded),
			"universe": len(sources),
		}).Info("sharding active")
	}
	if len(sharded) == 0 {
		log.Info("no sources to mirror; nothing to do")
		return map[string]Counts{}, nil
	}

	var deadline time.Time
	if cfg.TimeBudget > 0 {
		deadline = time.Now().Add(cfg.TimeBudget)
	}
	var sync = &syncer{cfg: cfg, dest: dest, width: width, deadline: deadline}

	var results = make(map[string]Counts)
	var units int

	for fi := range r.Flows {
		var spec = &r.Flows[fi]
		var flowCounts Counts

		for _, sourceID := range sharded {
			if ctx.Err() != nil {
				results[spec.Name] = flowCounts
				return results, nil
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				log.WithField("flow", spec.Name).Info("time budget reached; stopping cleanly")
				results[spec.Name] = flowCounts
				return results, nil
			}
			if cfg.MaxUnits > 0 && units >= cfg.MaxUnits {
				log.WithField("units", units).Info("unit budget reached; stopping cleanly")
				results[spec.Name] = flowCounts
				return results, nil
			}
			units++

			var counts, uErr = r.runUnit(ctx, sync, sourceID, spec)
			if uErr != nil {
				// A failing unit never aborts its siblings; it is logged and
				// contributes zero progress.
				log.WithFields(log.Fields{
					"source": sourceID,
					"flow":   spec.Name,
					"err":    uErr,
				}).Error("unit failed; continuing")
				metrics.UnitsTotal.WithLabelValues(metrics.Fail).Inc()
			} else {
				flowCounts.Add(counts)
				metrics.UnitsTotal.WithLabelValues(metrics.Ok).Inc()
			}

			if err = retry.Sleep(ctx, cfg.SleepBetweenSources); err != nil {
				results[spec.Name] = flowCounts
				return results, nil
			}
		}

		log.WithFields(log.Fields{
			"flow":     spec.Name,
			"scanned":  flowCounts.Scanned,
			"appended": flowCounts.Appended,
		}).Info("flow complete")
		results[spec.Name] = flowCounts

		if err = retry.Sleep(ctx, cfg.SleepBetweenFlows); err != nil {
			return results, nil
		}
	}
	return results, nil
}

// runUnit processes one (source, flow) pair.
func (r *Runner) runUnit(ctx context.Context, sync *syncer, sourceID string, spec *flow.Spec) (Counts, error) {
	var unitKey = fmt.Sprintf("%s/%s", sourceID, spec.Name)

	// A unit previously marked as having no source tab is skipped without
	// spending remote calls. The marker is cleared only by operator reset.
	if _, absent, err := r.Store.GetCursor(ctx, unitKey+absentMarkerSuffix); err != nil {
		return Counts{}, err
	} else if absent {
		log.WithField("unit", unitKey).Debug("source tab previously absent; skipping")
		return Counts{}, nil
	}

	var policy = r.Config.RetryPolicy()
	var ss grid.Spreadsheet
	var err = retry.Do(ctx, policy, "open-source", func() (oErr error) {
		ss, oErr = r.Provider.Open(ctx, sourceID)
		return oErr
	})
	if err != nil {
		return Counts{}, errors.WithMessage(err, "opening source")
	}

	var ws grid.Worksheet
	if err = retry.Do(ctx, policy, "open-tab", func() (oErr error) {
		ws, oErr = ss.Worksheet(ctx, spec.Tab)
		return oErr
	}); err != nil {
		return Counts{}, errors.WithMessagef(err, "opening tab %q", spec.Tab)
	} else if ws == nil {
		// Nothing to mirror. Mark the unit terminal so it isn't re-probed
		// every run.
		log.WithFields(log.Fields{"unit": unitKey, "tab": spec.Tab}).
			Warn("source tab missing; marking unit done")
		return Counts{}, r.Store.PutCursor(ctx, unitKey+absentMarkerSuffix, 1)
	}

	var unit = dedup.Unit{SourceID: sourceID, Flow: spec, Sheet: ws}
	strategy, err := dedup.New(unit, r.Store, r.Config.DedupConfig())
	if err != nil {
		return Counts{}, err
	}

	log.WithFields(log.Fields{
		"unit":     unitKey,
		"strategy": strategy.Name(),
		"baseline": r.Config.Baseline,
	}).Debug("starting unit")

	return sync.syncUnit(ctx, unit, strategy)
}

// absentMarkerSuffix marks units whose source tab does not exist.
const absentMarkerSuffix = "#absent"

// shard returns the members of |sources| owned by |index| of |total| shards:
// a pure static partition by source index. The union over all shards is
// exactly the full source set, with no overlaps.
func shard(sources []string, total, index int) []string {
	if total <= 1 {
		return sources
	}
	var out []string
	for i, s := range sources {
		if i%total == index {
			out = append(out, s)
		}
	}
	return out
}
