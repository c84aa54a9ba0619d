package pbrtex

import "errors"

// ErrNoTiersAvailable is returned when tier selection runs against an empty
// tier list. Catalog validation makes this unreachable for catalog-backed
// materials; it guards direct callers.
var ErrNoTiersAvailable = errors.New("no tiers available")

// SelectorConfig parameterizes tier selection.
//
// Thresholds partition camera distance into bands: band i covers
// [Thresholds[i-1], Thresholds[i]), the last band is open-ended. Band 0 (the
// nearest) maps to the highest-resolution tier, each farther band steps one
// tier down, clamping at the lowest.
//
// HysteresisMargin keeps a just-downgraded object from flipping straight back:
// stepping down happens the moment distance crosses a threshold, stepping back
// up only once distance is inside the threshold by at least the margin.
type SelectorConfig struct {
	Thresholds       []float32
	HysteresisMargin float32
}

// SelectTier maps a distance observation to the tier that should be bound,
// given the currently bound tier (TierNone if nothing is bound yet) and the
// material's tiers in ascending resolution order.
//
// Pure policy: no side effects, all state is in the arguments.
func SelectTier(distance float32, current Tier, available []Tier, cfg SelectorConfig) (Tier, error) {
	if len(available) == 0 {
		return TierNone, ErrNoTiersAvailable
	}

	// Degenerate observations (object at or behind the camera) always want
	// full resolution.
	if distance <= 0 {
		return available[len(available)-1], nil
	}

	raw := distanceBand(distance, cfg.Thresholds, 0)

	curIdx := tierIndex(available, current)
	if curIdx < 0 {
		// Nothing bound yet (or a tier foreign to this material): take the
		// plain band, no hysteresis to anchor on.
		return tierForBand(raw, available), nil
	}
	curBand := len(available) - 1 - curIdx

	if raw > curBand {
		// Moving away: downgrade as soon as the plain threshold is crossed.
		return tierForBand(raw, available), nil
	}

	// Moving closer: only upgrade once the boundary is cleared by the margin.
	near := distanceBand(distance, cfg.Thresholds, cfg.HysteresisMargin)
	if near < curBand {
		return tierForBand(near, available), nil
	}
	return current, nil
}

// distanceBand returns the index of the band containing distance, with every
// threshold pulled toward the camera by margin.
func distanceBand(distance float32, thresholds []float32, margin float32) int {
	for i, t := range thresholds {
		if distance < t-margin {
			return i
		}
	}
	return len(thresholds)
}

// tierForBand maps band 0 to the highest-resolution tier and clamps farther
// bands at the lowest.
func tierForBand(band int, available []Tier) Tier {
	idx := len(available) - 1 - band
	if idx < 0 {
		idx = 0
	}
	return available[idx]
}

func tierIndex(available []Tier, tier Tier) int {
	if tier == TierNone {
		return -1
	}
	for i, t := range available {
		if t == tier {
			return i
		}
	}
	return -1
}
