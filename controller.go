package pbrtex

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// ObjectId identifies a renderable object registered with the controller.
type ObjectId string

// Binder is the renderable-object collaborator: whatever owns the material
// slots. ApplyChannelBindings must apply the whole set atomically, so a
// material never shows channels from two different tiers at once.
type Binder interface {
	ApplyChannelBindings(textures ChannelTextures)
}

// BinderFunc adapts a function to the Binder interface.
type BinderFunc func(textures ChannelTextures)

func (f BinderFunc) ApplyChannelBindings(textures ChannelTextures) { f(textures) }

type SwapState int

const (
	SwapIdle SwapState = iota
	SwapLoading
	SwapFailed
)

// boundState tracks one registered object. current is the bound tier
// (TierNone before the first swap lands), target the pending transition's
// tier while Loading or Failed. At most one transition is pending per object.
type boundState struct {
	id       ObjectId
	material MaterialId
	binder   Binder
	state    SwapState
	current  Tier
	target   Tier
}

// completion carries a settled acquire back onto the driver's turn.
type completion struct {
	object   ObjectId
	material MaterialId
	tier     Tier
	handle   *TextureHandle
}

// ControllerConfig carries the streaming policy knobs.
type ControllerConfig struct {
	Thresholds        []float32
	HysteresisMargin  float32
	MemoryBudgetBytes uint64

	// EvictEvery throttles the eviction pass run inside Tick. Zero disables
	// it; eviction then only happens through explicit RunEviction calls.
	EvictEvery time.Duration
}

// ErrUnknownObject is returned for object ids never registered or already
// unregistered.
var ErrUnknownObject = fmt.Errorf("unknown object")

// SwapController drives tier transitions for registered objects. A single
// driver goroutine calls Register, Unregister, Tick, ApplyCompletions and
// RunEviction (e.g. once per frame); texture loads run on cache goroutines
// and report back through a completion queue that Tick drains, so nothing
// here ever blocks the driver.
type SwapController struct {
	catalog *TierCatalog
	cache   *TextureCache
	cfg     ControllerConfig
	log     Logger

	// OnLoadFailure, when set, observes per-object load failures. The object
	// keeps its last-good binding; the driver loop is never interrupted.
	OnLoadFailure func(object ObjectId, material MaterialId, tier Tier, err error)

	objects     map[ObjectId]*boundState
	completions chan completion

	lastEviction time.Time
	now          func() time.Time
}

func NewSwapController(catalog *TierCatalog, cache *TextureCache, cfg ControllerConfig, log Logger) *SwapController {
	if log == nil {
		log = NewNopLogger()
	}
	return &SwapController{
		catalog:     catalog,
		cache:       cache,
		cfg:         cfg,
		log:         log,
		objects:     make(map[ObjectId]*boundState),
		completions: make(chan completion, 64),
		now:         time.Now,
	}
}

// Register adds a renderable object using the given material. The first Tick
// selects and loads its initial tier; until that lands nothing is bound.
func (ctrl *SwapController) Register(binder Binder, material MaterialId) (ObjectId, error) {
	if _, err := ctrl.catalog.AvailableTiers(material); err != nil {
		return "", err
	}

	id := ObjectId(uuid.NewString())
	ctrl.objects[id] = &boundState{
		id:       id,
		material: material,
		binder:   binder,
		state:    SwapIdle,
		current:  TierNone,
		target:   TierNone,
	}
	return id, nil
}

// Unregister removes an object and releases its held tier reference. An
// in-flight load is left to complete into the shared cache; its result is
// discarded and the reference released when the completion arrives.
func (ctrl *SwapController) Unregister(id ObjectId) error {
	st, ok := ctrl.objects[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	if st.current != TierNone {
		ctrl.cache.Release(st.material, st.current)
	}
	delete(ctrl.objects, id)
	return nil
}

// Tick feeds one distance observation for one object: drains queued
// completions, runs the throttled eviction pass, then selects the target tier
// and starts, retargets or settles the object's transition as needed.
// Repeated Ticks with an unchanged observation are free once the object has
// settled.
func (ctrl *SwapController) Tick(id ObjectId, distance float32) error {
	ctrl.ApplyCompletions()
	ctrl.maybeEvict()

	st, ok := ctrl.objects[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}

	// A failed transition keeps the last-good binding; the next observation
	// recovers the object and may re-attempt.
	if st.state == SwapFailed {
		st.state = SwapIdle
		st.target = TierNone
	}

	tiers, err := ctrl.catalog.AvailableTiers(st.material)
	if err != nil {
		return err
	}
	target, err := SelectTier(distance, st.current, tiers, SelectorConfig{
		Thresholds:       ctrl.cfg.Thresholds,
		HysteresisMargin: ctrl.cfg.HysteresisMargin,
	})
	if err != nil {
		return err
	}

	switch st.state {
	case SwapLoading:
		if target == st.target {
			return nil
		}
		if target == st.current {
			// The pending transition is no longer wanted. Its completion
			// will arrive with a stale target and be discarded.
			st.state = SwapIdle
			st.target = TierNone
			return nil
		}
		// Retarget: supersede the pending transition with the new tier.
		return ctrl.begin(st, target)

	default: // SwapIdle
		if target == st.current {
			return nil
		}
		return ctrl.begin(st, target)
	}
}

// TickAt is Tick with the distance observation computed from camera and
// object positions.
func (ctrl *SwapController) TickAt(id ObjectId, camera, position mgl32.Vec3) error {
	return ctrl.Tick(id, camera.Sub(position).Len())
}

func (ctrl *SwapController) begin(st *boundState, target Tier) error {
	handle, err := ctrl.cache.Acquire(st.material, target)
	if err != nil {
		return err
	}

	select {
	case <-handle.Done():
		// Cache hit (or an already-settled load): bind within this Tick.
		ctrl.finish(st, target, handle)
	default:
		st.state = SwapLoading
		st.target = target
		go func() {
			<-handle.Done()
			ctrl.completions <- completion{
				object:   st.id,
				material: st.material,
				tier:     target,
				handle:   handle,
			}
		}()
	}
	return nil
}

// ApplyCompletions drains the completion queue, applying each settled
// transition whose target still matches and discarding stale ones. Tick calls
// this first; drivers that idle between observations may also call it
// directly.
func (ctrl *SwapController) ApplyCompletions() {
	for {
		select {
		case comp := <-ctrl.completions:
			st, ok := ctrl.objects[comp.object]
			if !ok || st.state != SwapLoading || st.target != comp.tier {
				// Superseded by a newer transition, a recovery, or the object
				// is gone. Expected race, not an error.
				ctrl.log.Debugf("stale completion discarded: object %s tier %s/%s",
					comp.object, comp.material, comp.tier)
				if _, err := comp.handle.Result(); err == nil {
					ctrl.cache.Release(comp.material, comp.tier)
				}
			} else {
				ctrl.finish(st, comp.tier, comp.handle)
			}
		default:
			return
		}
	}
}

// finish settles a transition: on success rebinds every channel slot in one
// atomic application and releases the superseded tier, on failure keeps the
// old binding live and parks the object in SwapFailed.
func (ctrl *SwapController) finish(st *boundState, tier Tier, handle *TextureHandle) {
	textures, err := handle.Result()
	if err != nil {
		st.state = SwapFailed
		st.target = tier
		ctrl.log.Errorf("object %s: tier swap %s -> %s failed: %v",
			st.id, st.current, tier, err)
		if ctrl.OnLoadFailure != nil {
			ctrl.OnLoadFailure(st.id, st.material, tier, err)
		}
		return
	}

	st.binder.ApplyChannelBindings(textures)
	previous := st.current
	st.current = tier
	st.state = SwapIdle
	st.target = TierNone

	if previous != TierNone {
		ctrl.cache.Release(st.material, previous)
	}
	ctrl.log.Debugf("object %s: bound tier %s/%s (was %s)", st.id, st.material, tier, previous)
}

// RunEviction reclaims cache memory down to the configured budget.
func (ctrl *SwapController) RunEviction() int {
	return ctrl.cache.EvictUnused(ctrl.cfg.MemoryBudgetBytes)
}

func (ctrl *SwapController) maybeEvict() {
	if ctrl.cfg.EvictEvery <= 0 {
		return
	}
	if now := ctrl.now(); now.Sub(ctrl.lastEviction) >= ctrl.cfg.EvictEvery {
		ctrl.lastEviction = now
		ctrl.RunEviction()
	}
}

// BoundTier reports an object's currently bound tier (TierNone before the
// first swap lands).
func (ctrl *SwapController) BoundTier(id ObjectId) (Tier, error) {
	st, ok := ctrl.objects[id]
	if !ok {
		return TierNone, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	return st.current, nil
}

// State reports an object's swap state and, while Loading or Failed, the
// transition's target tier.
func (ctrl *SwapController) State(id ObjectId) (SwapState, Tier, error) {
	st, ok := ctrl.objects[id]
	if !ok {
		return SwapIdle, TierNone, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	return st.state, st.target, nil
}
