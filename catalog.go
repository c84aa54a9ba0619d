package pbrtex

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaterialId identifies one PBR material whose texture channels vary together
// across resolution tiers.
type MaterialId string

// Tier is a discrete resolution level, the pixel dimension of a square texture
// set (8 for 8x8, 1024 for 1024x1024). Tiers order naturally by dimension.
type Tier uint32

// TierNone marks "no tier bound" on an object and "no pending target".
const TierNone Tier = 0

func (t Tier) String() string {
	if t == TierNone {
		return "none"
	}
	return fmt.Sprintf("%dx%d", uint32(t), uint32(t))
}

// ParseTier parses "64x64" (or bare "64") into a Tier.
func ParseTier(name string) (Tier, error) {
	s := name
	if w, h, ok := strings.Cut(name, "x"); ok {
		if w != h {
			return TierNone, fmt.Errorf("tier %q: only square tiers are supported", name)
		}
		s = w
	}
	dim, err := strconv.ParseUint(s, 10, 32)
	if err != nil || dim == 0 {
		return TierNone, fmt.Errorf("tier %q: invalid resolution", name)
	}
	return Tier(dim), nil
}

// ChannelSet maps a channel name (albedo, ao, normal, roughness, height, ...)
// to the locator its texture loads from, for one (material, tier) pair.
type ChannelSet map[string]string

// Common PBR channel names.
const (
	ChannelAlbedo    = "albedo"
	ChannelAO        = "ao"
	ChannelNormal    = "normal"
	ChannelRoughness = "roughness"
	ChannelHeight    = "height"
)

var (
	ErrUnknownMaterial = errors.New("unknown material")
	ErrUnknownTier     = errors.New("unknown tier")
)

type materialTiers struct {
	tiers   map[Tier]ChannelSet
	ordered []Tier // ascending by resolution
}

// TierCatalog is the static mapping from (material, tier) to the channel
// locators of that tier's texture set. Read-only after construction.
type TierCatalog struct {
	materials map[MaterialId]*materialTiers
}

// NewTierCatalog builds a catalog and validates it: every material needs at
// least one tier, and all tiers of a material must define the same channel
// names (a swap always rebinds the full set, so no tier may miss a channel).
func NewTierCatalog(materials map[MaterialId]map[Tier]ChannelSet) (*TierCatalog, error) {
	cat := &TierCatalog{materials: make(map[MaterialId]*materialTiers, len(materials))}

	for id, tiers := range materials {
		if len(tiers) == 0 {
			return nil, fmt.Errorf("material %q: no tiers defined", id)
		}

		mt := &materialTiers{tiers: make(map[Tier]ChannelSet, len(tiers))}
		var ref ChannelSet
		for tier, channels := range tiers {
			if tier == TierNone {
				return nil, fmt.Errorf("material %q: tier resolution must be > 0", id)
			}
			if len(channels) == 0 {
				return nil, fmt.Errorf("material %q tier %s: empty channel set", id, tier)
			}
			if ref == nil {
				ref = channels
			} else if err := sameChannelNames(ref, channels); err != nil {
				return nil, fmt.Errorf("material %q tier %s: %w", id, tier, err)
			}
			mt.tiers[tier] = cloneChannelSet(channels)
			mt.ordered = append(mt.ordered, tier)
		}
		sort.Slice(mt.ordered, func(i, j int) bool { return mt.ordered[i] < mt.ordered[j] })
		cat.materials[id] = mt
	}

	return cat, nil
}

// Resolve returns the channel locators for one (material, tier) pair.
func (cat *TierCatalog) Resolve(material MaterialId, tier Tier) (ChannelSet, error) {
	mt, ok := cat.materials[material]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMaterial, material)
	}
	channels, ok := mt.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("%w: material %q has no tier %s", ErrUnknownTier, material, tier)
	}
	return channels, nil
}

// AvailableTiers lists a material's tiers ascending by resolution. The
// returned slice is shared; callers must not mutate it.
func (cat *TierCatalog) AvailableTiers(material MaterialId) ([]Tier, error) {
	mt, ok := cat.materials[material]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMaterial, material)
	}
	return mt.ordered, nil
}

// Materials lists the catalog's material ids in no particular order.
func (cat *TierCatalog) Materials() []MaterialId {
	ids := make([]MaterialId, 0, len(cat.materials))
	for id := range cat.materials {
		ids = append(ids, id)
	}
	return ids
}

func sameChannelNames(a, b ChannelSet) error {
	if len(a) != len(b) {
		return errors.New("channel names differ from the material's other tiers")
	}
	for name := range a {
		if _, ok := b[name]; !ok {
			return fmt.Errorf("channel %q missing (names must match across all tiers)", name)
		}
	}
	return nil
}

func cloneChannelSet(c ChannelSet) ChannelSet {
	out := make(ChannelSet, len(c))
	for name, locator := range c {
		out[name] = locator
	}
	return out
}
