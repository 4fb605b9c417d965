package tiger

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/fetcher"
)

// BlockGroupURL returns the Census download URL of the block-group shapefile
// for a year and two-digit state FIPS code.
func BlockGroupURL(year int, state string) string {
	return fmt.Sprintf("https://www2.census.gov/geo/tiger/TIGER%d/BG/tl_%d_%s_bg.zip", year, year, state)
}

// Download fetches a zipped shapefile into destDir, extracts it and returns
// the path of the .shp file. An archive already present is reused.
func Download(ctx context.Context, f fetcher.Fetcher, url, destDir string) (string, error) {
	log := zap.L().With(
		zap.String("component", "tiger.download"),
		zap.String("url", url),
	)

	zipName := path.Base(url)
	zipPath := filepath.Join(destDir, zipName)

	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("archive already downloaded", zap.String("path", zipPath))
	} else {
		log.Info("downloading shapefile")
		if _, err := f.DownloadToFile(ctx, url, zipPath); err != nil {
			return "", eris.Wrap(err, "tiger: download shapefile")
		}
	}

	extracted, err := fetcher.ExtractZIP(zipPath, filepath.Join(destDir, strings.TrimSuffix(zipName, ".zip")))
	if err != nil {
		return "", eris.Wrap(err, "tiger: extract archive")
	}

	shpPath, ok := fetcher.FindExt(extracted, ".shp")
	if !ok {
		return "", eris.Errorf("tiger: no .shp file in %s", zipName)
	}
	return shpPath, nil
}
