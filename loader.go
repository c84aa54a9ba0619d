package pbrtex

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	xdraw "golang.org/x/image/draw"
)

type TextureFormat uint32

const (
	TextureFormatR8Uint     TextureFormat = 0x00000003
	TextureFormatRGBA8Unorm TextureFormat = 0x00000012
	TextureFormatRGBA8Uint  TextureFormat = 0x00000015
)

// TextureAsset is a decoded texture: raw texels plus dimensions and format.
// It is the opaque resource the cache hands out; what a renderer does with it
// (upload, sampling) is outside this package.
type TextureAsset struct {
	Texels []uint8
	Width  uint32
	Height uint32
	Format TextureFormat
}

// ByteSize is the resident-memory cost estimate used for cache budgeting.
func (a *TextureAsset) ByteSize() uint64 {
	return uint64(len(a.Texels))
}

// ChannelLoader fetches and decodes the texture behind one channel locator.
// Loads run on cache goroutines and may block on I/O; implementations must be
// safe for concurrent use.
type ChannelLoader interface {
	LoadChannel(locator string) (*TextureAsset, error)
}

// LoadFailedError reports a failed channel load. One failed channel fails the
// whole tier acquisition; the channel and locator identify the culprit.
type LoadFailedError struct {
	Channel string
	Locator string
	Err     error
}

func (e *LoadFailedError) Error() string {
	return fmt.Sprintf("load failed: channel %q (%s): %v", e.Channel, e.Locator, e.Err)
}

func (e *LoadFailedError) Unwrap() error { return e.Err }

// FileLoader loads PNG channel textures from disk, resolving locators
// relative to Root.
type FileLoader struct {
	Root string
}

func (l *FileLoader) LoadChannel(locator string) (*TextureAsset, error) {
	path := locator
	if l.Root != "" {
		path = filepath.Join(l.Root, locator)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	bounds := img.Bounds()
	rgbaImg, ok := img.(*image.RGBA)
	if !ok {
		rgbaImg = image.NewRGBA(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				rgbaImg.Set(x, y, img.At(x, y))
			}
		}
	}

	return &TextureAsset{
		Texels: rgbaImg.Pix,
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
		Format: TextureFormatRGBA8Unorm,
	}, nil
}

// MemoryLoader serves pre-registered assets by locator. Used by tests and
// demos that generate their texture sets procedurally.
type MemoryLoader struct {
	mu     sync.Mutex
	assets map[string]*TextureAsset
}

func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{assets: make(map[string]*TextureAsset)}
}

func (l *MemoryLoader) Put(locator string, asset *TextureAsset) {
	l.mu.Lock()
	l.assets[locator] = asset
	l.mu.Unlock()
}

func (l *MemoryLoader) LoadChannel(locator string) (*TextureAsset, error) {
	l.mu.Lock()
	asset, ok := l.assets[locator]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no asset registered for locator %q", locator)
	}
	return asset, nil
}

// DerivingLoader synthesizes lower-resolution tiers from a master image, for
// materials authored only at top resolution. Locators of the form
// "derive:<size>:<base locator>" load the base through the wrapped loader and
// downscale it to size x size; anything else passes through unchanged.
type DerivingLoader struct {
	Base ChannelLoader
}

const derivePrefix = "derive:"

func (l *DerivingLoader) LoadChannel(locator string) (*TextureAsset, error) {
	if !strings.HasPrefix(locator, derivePrefix) {
		return l.Base.LoadChannel(locator)
	}

	sizeStr, base, ok := strings.Cut(locator[len(derivePrefix):], ":")
	if !ok {
		return nil, fmt.Errorf("malformed derive locator %q", locator)
	}
	size, err := strconv.ParseUint(sizeStr, 10, 32)
	if err != nil || size == 0 {
		return nil, fmt.Errorf("derive locator %q: invalid size %q", locator, sizeStr)
	}

	master, err := l.Base.LoadChannel(base)
	if err != nil {
		return nil, err
	}
	return ScaleTexture(master, uint32(size), uint32(size)), nil
}

// ScaleTexture resamples an RGBA texture to the given dimensions.
func ScaleTexture(src *TextureAsset, width, height uint32) *TextureAsset {
	srcImg := &image.RGBA{
		Pix:    src.Texels,
		Stride: int(src.Width) * 4,
		Rect:   image.Rect(0, 0, int(src.Width), int(src.Height)),
	}
	dstImg := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	xdraw.ApproxBiLinear.Scale(dstImg, dstImg.Rect, srcImg, srcImg.Rect, xdraw.Src, nil)

	return &TextureAsset{
		Texels: dstImg.Pix,
		Width:  width,
		Height: height,
		Format: src.Format,
	}
}
