package pbrtex

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ChannelTextures is one tier's fully loaded texture set, channel name to
// asset. Handed out only complete: a tier either has every channel Ready or
// nothing at all.
type ChannelTextures map[string]*TextureAsset

type LoadState int

const (
	LoadPending LoadState = iota
	LoadReady
	LoadFailed
)

type cacheKey struct {
	Material MaterialId
	Tier     Tier
}

type cacheEntry struct {
	key  cacheKey
	done chan struct{}

	// Written by the loading goroutine before done closes; read-only after.
	state    LoadState
	textures ChannelTextures
	err      error
	bytes    uint64

	// Guarded by the cache mutex.
	refs         int
	lastReleased time.Time
}

var errStillPending = errors.New("texture tier load still pending")

// TextureHandle is the future returned by Acquire. Done closes once the
// tier's load settles; Result is valid from then on.
type TextureHandle struct {
	entry *cacheEntry
}

// Done closes when every channel of the tier is Ready, or the load failed.
func (h *TextureHandle) Done() <-chan struct{} { return h.entry.done }

// Result returns the complete channel set, or the load error. Before Done
// closes it reports errStillPending.
func (h *TextureHandle) Result() (ChannelTextures, error) {
	select {
	case <-h.entry.done:
	default:
		return nil, errStillPending
	}
	if h.entry.state == LoadFailed {
		return nil, h.entry.err
	}
	return h.entry.textures, nil
}

func (h *TextureHandle) Material() MaterialId { return h.entry.key.Material }
func (h *TextureHandle) Tier() Tier           { return h.entry.key.Tier }

type CacheStats struct {
	Entries       int
	Pending       int
	ResidentBytes uint64
	Evictions     uint64
}

// TextureCache holds loaded tier texture sets keyed by (material, tier),
// reference-counted and shared across every object bound to the same tier.
//
// All map and refcount mutation goes through one mutex: creation of an entry,
// joining its in-flight load, release and eviction are serialized, so at most
// one load is ever in flight per key no matter how many objects want it.
type TextureCache struct {
	catalog *TierCatalog
	loader  ChannelLoader
	log     Logger

	// OnEvict, when set, disposes the evicted tier's resources. Called
	// outside the cache lock, never from Acquire or Release.
	OnEvict func(MaterialId, Tier, ChannelTextures)

	mu            sync.Mutex
	entries       map[cacheKey]*cacheEntry
	residentBytes uint64
	evictions     uint64

	now func() time.Time
}

func NewTextureCache(catalog *TierCatalog, loader ChannelLoader, log Logger) *TextureCache {
	if log == nil {
		log = NewNopLogger()
	}
	return &TextureCache{
		catalog: catalog,
		loader:  loader,
		log:     log,
		entries: make(map[cacheKey]*cacheEntry),
		now:     time.Now,
	}
}

// Acquire takes a reference on the (material, tier) texture set and returns a
// future for it. A cache hit resolves immediately; a miss starts one
// asynchronous load of every channel in the tier's set, shared by every
// concurrent Acquire of the same key. If any channel fails, the whole
// acquisition fails and the partial entry is discarded.
func (c *TextureCache) Acquire(material MaterialId, tier Tier) (*TextureHandle, error) {
	channels, err := c.catalog.Resolve(material, tier)
	if err != nil {
		return nil, err
	}

	key := cacheKey{Material: material, Tier: tier}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		entry.refs++
		c.mu.Unlock()
		return &TextureHandle{entry: entry}, nil
	}

	entry = &cacheEntry{
		key:  key,
		done: make(chan struct{}),
		refs: 1,
	}
	c.entries[key] = entry
	c.mu.Unlock()

	go c.load(entry, channels)

	return &TextureHandle{entry: entry}, nil
}

func (c *TextureCache) load(entry *cacheEntry, channels ChannelSet) {
	textures := make(ChannelTextures, len(channels))
	var bytes uint64

	for name, locator := range channels {
		asset, err := c.loader.LoadChannel(locator)
		if err != nil {
			entry.state = LoadFailed
			entry.err = &LoadFailedError{Channel: name, Locator: locator, Err: err}

			// Discard the partial entry so a later Acquire starts fresh.
			c.mu.Lock()
			delete(c.entries, entry.key)
			c.mu.Unlock()

			c.log.Errorf("texture tier %s/%s: %v", entry.key.Material, entry.key.Tier, entry.err)
			close(entry.done)
			return
		}
		textures[name] = asset
		bytes += asset.ByteSize()
	}

	entry.state = LoadReady
	entry.textures = textures
	entry.bytes = bytes

	c.mu.Lock()
	c.residentBytes += bytes
	c.mu.Unlock()

	c.log.Debugf("texture tier %s/%s ready (%d channels, %d bytes)",
		entry.key.Material, entry.key.Tier, len(textures), bytes)
	close(entry.done)
}

// Release drops one reference on the (material, tier) texture set. The entry
// stays resident; it only becomes a candidate for EvictUnused once its
// reference count reaches zero. Releasing a key the cache no longer holds
// (e.g. after a failed load) is a no-op.
func (c *TextureCache) Release(material MaterialId, tier Tier) {
	key := cacheKey{Material: material, Tier: tier}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.log.Debugf("release of absent texture tier %s/%s ignored", material, tier)
		return
	}
	if entry.refs == 0 {
		c.log.Warnf("unbalanced release of texture tier %s/%s", material, tier)
		return
	}
	entry.refs--
	if entry.refs == 0 {
		entry.lastReleased = c.now()
	}
}

// EvictUnused evicts zero-reference entries, least recently released first,
// until resident memory fits budgetBytes or nothing evictable remains.
// Pending loads and entries still referenced are never touched. Returns the
// number of entries evicted.
func (c *TextureCache) EvictUnused(budgetBytes uint64) int {
	type victim struct {
		key      cacheKey
		textures ChannelTextures
	}
	var victims []victim

	c.mu.Lock()
	if c.residentBytes > budgetBytes {
		var candidates []*cacheEntry
		for _, entry := range c.entries {
			if entry.refs != 0 {
				continue
			}
			// A settled entry still in the map is necessarily Ready; failed
			// loads are discarded before their done channel closes.
			select {
			case <-entry.done:
				candidates = append(candidates, entry)
			default:
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].lastReleased.Before(candidates[j].lastReleased)
		})

		for _, entry := range candidates {
			if c.residentBytes <= budgetBytes {
				break
			}
			delete(c.entries, entry.key)
			c.residentBytes -= entry.bytes
			c.evictions++
			victims = append(victims, victim{key: entry.key, textures: entry.textures})
		}
	}
	c.mu.Unlock()

	for _, v := range victims {
		c.log.Debugf("evicted texture tier %s/%s", v.key.Material, v.key.Tier)
		if c.OnEvict != nil {
			c.OnEvict(v.key.Material, v.key.Tier, v.textures)
		}
	}
	return len(victims)
}

// ResidentBytes reports the memory held by fully loaded entries.
func (c *TextureCache) ResidentBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.residentBytes
}

func (c *TextureCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Entries:       len(c.entries),
		ResidentBytes: c.residentBytes,
		Evictions:     c.evictions,
	}
	for _, entry := range c.entries {
		select {
		case <-entry.done:
		default:
			stats.Pending++
		}
	}
	return stats
}

// refCount is a test seam; production code never needs it.
func (c *TextureCache) refCount(material MaterialId, tier Tier) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[cacheKey{Material: material, Tier: tier}]; ok {
		return entry.refs
	}
	return 0
}
