package pbrtex

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, path string, size int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, png.Encode(file, img))
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "albedo.png"), 16, color.NRGBA{R: 200, G: 10, B: 10, A: 255})

	loader := &FileLoader{Root: dir}
	asset, err := loader.LoadChannel("albedo.png")
	require.NoError(t, err)

	assert.Equal(t, uint32(16), asset.Width)
	assert.Equal(t, uint32(16), asset.Height)
	assert.Equal(t, TextureFormatRGBA8Unorm, asset.Format)
	assert.Equal(t, uint64(16*16*4), asset.ByteSize())
	assert.Equal(t, uint8(200), asset.Texels[0])

	_, err = loader.LoadChannel("missing.png")
	assert.Error(t, err)

	garbage := filepath.Join(dir, "not_a.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not a png"), 0644))
	_, err = loader.LoadChannel("not_a.png")
	assert.Error(t, err)
}

func TestScaleTexture(t *testing.T) {
	src := GenerateSolidTexture(64, [4]uint8{10, 20, 30, 255})
	dst := ScaleTexture(src, 8, 8)

	assert.Equal(t, uint32(8), dst.Width)
	assert.Equal(t, uint32(8), dst.Height)
	assert.Equal(t, uint64(8*8*4), dst.ByteSize())
	// Downscaling a solid color keeps the color.
	assert.Equal(t, uint8(10), dst.Texels[0])
	assert.Equal(t, uint8(20), dst.Texels[1])
	assert.Equal(t, uint8(30), dst.Texels[2])
}

func TestMemoryLoader(t *testing.T) {
	loader := NewMemoryLoader()
	loader.Put("mem:a", GenerateSolidTexture(8, [4]uint8{1, 2, 3, 255}))

	asset, err := loader.LoadChannel("mem:a")
	require.NoError(t, err)
	assert.Equal(t, uint32(8), asset.Width)

	_, err = loader.LoadChannel("mem:b")
	assert.Error(t, err)
}

func TestDerivingLoader(t *testing.T) {
	base := NewMemoryLoader()
	base.Put("master.png", GenerateSolidTexture(64, [4]uint8{50, 60, 70, 255}))
	loader := &DerivingLoader{Base: base}

	// Pass-through for plain locators.
	asset, err := loader.LoadChannel("master.png")
	require.NoError(t, err)
	assert.Equal(t, uint32(64), asset.Width)

	// Derives a downscaled tier from the master.
	asset, err = loader.LoadChannel("derive:8:master.png")
	require.NoError(t, err)
	assert.Equal(t, uint32(8), asset.Width)
	assert.Equal(t, uint8(50), asset.Texels[0])

	for _, bad := range []string{"derive:", "derive:8", "derive:x:master.png", "derive:0:master.png"} {
		if _, err := loader.LoadChannel(bad); err == nil {
			t.Errorf("locator %q: expected error", bad)
		}
	}

	_, err = loader.LoadChannel("derive:8:absent.png")
	assert.Error(t, err)
}

func TestGenerateTierSet(t *testing.T) {
	loader := NewMemoryLoader()
	tiers := GenerateTierSet(loader, "demo", []uint32{8, 64}, []string{ChannelAlbedo, ChannelNormal})

	require.Len(t, tiers, 2)
	for tier, channels := range tiers {
		require.Len(t, channels, 2)
		for _, locator := range channels {
			asset, err := loader.LoadChannel(locator)
			require.NoError(t, err)
			assert.Equal(t, uint32(tier), asset.Width)
		}
	}

	// The generated sets plug straight into a catalog.
	cat, err := NewTierCatalog(map[MaterialId]map[Tier]ChannelSet{"demo": tiers})
	require.NoError(t, err)
	got, err := cat.AvailableTiers("demo")
	require.NoError(t, err)
	assert.Equal(t, []Tier{8, 64}, got)
}
