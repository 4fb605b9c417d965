package render

import (
	"context"
	"image"
	_ "image/jpeg" // tile servers may return JPEG
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rotisserie/eris"

	"github.com/sells-group/shelter-access/internal/fetcher"
)

// TileSource fetches slippy-map tiles and caches them on disk.
type TileSource struct {
	fetcher  fetcher.Fetcher
	template string
	cacheDir string
}

// NewTileSource uses template, a URL containing {z}, {x} and {y}.
func NewTileSource(f fetcher.Fetcher, template, cacheDir string) *TileSource {
	return &TileSource{fetcher: f, template: template, cacheDir: cacheDir}
}

// URL returns the tile URL.
func (s *TileSource) URL(t maptile.Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	).Replace(s.template)
}

func (s *TileSource) cachePath(t maptile.Tile) string {
	return filepath.Join(s.cacheDir,
		strconv.Itoa(int(t.Z)),
		strconv.FormatUint(uint64(t.X), 10),
		strconv.FormatUint(uint64(t.Y), 10)+".img")
}

// Tile returns the decoded tile image, downloading it on a cache miss.
func (s *TileSource) Tile(ctx context.Context, t maptile.Tile) (image.Image, error) {
	path := s.cachePath(t)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, err := s.fetcher.DownloadToFile(ctx, s.URL(t), path); err != nil {
			return nil, eris.Wrapf(err, "render: download tile %d/%d/%d", t.Z, t.X, t.Y)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "render: open tile")
	}
	defer f.Close() //nolint:errcheck

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, eris.Wrapf(err, "render: decode tile %s", path)
	}
	return img, nil
}

// tilesCovering lists the tiles at zoom z covering bound.
func tilesCovering(bound orb.Bound, z maptile.Zoom) []maptile.Tile {
	topLeft := maptile.At(orb.Point{bound.Min[0], bound.Max[1]}, z)
	bottomRight := maptile.At(orb.Point{bound.Max[0], bound.Min[1]}, z)

	var tiles []maptile.Tile
	for y := topLeft.Y; y <= bottomRight.Y; y++ {
		for x := topLeft.X; x <= bottomRight.X; x++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}
