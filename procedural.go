package pbrtex

import "fmt"

// Procedural texture generation for demos and tests: fills a MemoryLoader
// with synthetic channel textures and returns the catalog input describing
// them, so a full streaming setup needs no files on disk.

// GenerateSolidTexture fills a size x size RGBA texture with one color.
func GenerateSolidTexture(size uint32, color [4]uint8) *TextureAsset {
	texels := make([]uint8, size*size*4)
	for i := uint32(0); i < size*size; i++ {
		copy(texels[i*4:], color[:])
	}
	return &TextureAsset{
		Texels: texels,
		Width:  size,
		Height: size,
		Format: TextureFormatRGBA8Unorm,
	}
}

// GenerateCheckerTexture fills a size x size RGBA texture with a 2x2-block
// checkerboard of two colors. Small tiers degrade to solid-ish patterns,
// which is fine for visual tier inspection.
func GenerateCheckerTexture(size uint32, a, b [4]uint8) *TextureAsset {
	texels := make([]uint8, size*size*4)
	block := size / 4
	if block == 0 {
		block = 1
	}
	for y := uint32(0); y < size; y++ {
		for x := uint32(0); x < size; x++ {
			color := a
			if ((x/block)+(y/block))%2 == 1 {
				color = b
			}
			copy(texels[(y*size+x)*4:], color[:])
		}
	}
	return &TextureAsset{
		Texels: texels,
		Width:  size,
		Height: size,
		Format: TextureFormatRGBA8Unorm,
	}
}

// GenerateTierSet registers procedural textures for every (tier, channel)
// combination with the loader and returns the material's catalog entry.
// Locators follow "mem:<material>/<tier>/<channel>".
func GenerateTierSet(loader *MemoryLoader, material MaterialId, sizes []uint32, channels []string) map[Tier]ChannelSet {
	tiers := make(map[Tier]ChannelSet, len(sizes))
	for _, size := range sizes {
		set := make(ChannelSet, len(channels))
		for i, channel := range channels {
			locator := fmt.Sprintf("mem:%s/%s/%s", material, Tier(size), channel)
			shade := uint8(40 * (i + 1))
			loader.Put(locator, GenerateCheckerTexture(size,
				[4]uint8{shade, shade, shade, 255},
				[4]uint8{255 - shade, 255 - shade, 255 - shade, 255},
			))
			set[channel] = locator
		}
		tiers[Tier(size)] = set
	}
	return tiers
}
