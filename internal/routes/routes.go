// Package routes turns the raw per-block-group routing documents into
// per-mode arrays with shelters sorted by travel time.
package routes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/fetcher"
	"github.com/sells-group/shelter-access/internal/model"
	"github.com/sells-group/shelter-access/internal/shelters"
)

// Locator resolves a shelter object ID to its catalogue entry.
type Locator interface {
	Lookup(objectID int) (shelters.Shelter, error)
}

// Source opens the raw route documents. It is called once per mode.
type Source func(ctx context.Context) (io.ReadCloser, error)

// FileSource reads an NDJSON export from path.
func FileSource(path string) Source {
	return func(context.Context) (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "routes: open %s", path)
		}
		return f, nil
	}
}

// SortedPath returns the normalized output file for mode under dir.
func SortedPath(dir string, mode model.Mode) string {
	return filepath.Join(dir, fmt.Sprintf("routes_%s_sorted.json", mode))
}

// Normalize reads NDJSON route documents from r and writes them to w as one
// JSON array. Each shelter gets its catalogue coordinates and the shelter
// list is stable-sorted by the mode's duration, unreachable last. Store ids
// and other unknown fields are dropped. It returns the document count.
func Normalize(ctx context.Context, r io.Reader, w io.Writer, mode model.Mode, loc Locator) (int, error) {
	docs, errs := fetcher.DecodeJSONLines[model.RouteRecord](ctx, r)

	out := fetcher.NewArrayWriter(w)

	var failed error
	for doc := range docs {
		if failed != nil {
			continue
		}
		if err := sortRecord(&doc, mode, loc); err != nil {
			failed = eris.Wrapf(err, "routes: block group %s", doc.BlockGroup.GEOID)
			continue
		}
		if err := out.Write(doc); err != nil {
			failed = err
		}
	}
	if err := <-errs; err != nil && failed == nil {
		failed = eris.Wrap(err, "routes: read raw documents")
	}
	if failed != nil {
		return out.Count(), failed
	}

	return out.Count(), out.Close()
}

func sortRecord(doc *model.RouteRecord, mode model.Mode, loc Locator) error {
	for i := range doc.Shelters {
		s := &doc.Shelters[i]
		shelter, err := loc.Lookup(s.ObjectID)
		if err != nil {
			return err
		}
		pt := shelter.Location
		s.Coordinates = &pt
		if _, err := s.For(mode); err != nil {
			return err
		}
	}
	sort.SliceStable(doc.Shelters, func(i, j int) bool {
		return doc.Shelters[i].Routes[mode].SortKey() < doc.Shelters[j].Routes[mode].SortKey()
	})
	return nil
}

// NormalizeAll writes SortedPath(outDir, mode) for every mode, reopening src
// each time. It returns the written paths in mode order.
func NormalizeAll(ctx context.Context, src Source, loc Locator, modes []model.Mode, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "routes: create output directory")
	}
	log := zap.L().With(zap.String("component", "routes"))

	paths := make([]string, 0, len(modes))
	for _, mode := range modes {
		path := SortedPath(outDir, mode)
		log.Info("creating sorted routes", zap.String("mode", mode.String()), zap.String("path", path))

		n, err := normalizeFile(ctx, src, loc, mode, path)
		if err != nil {
			return paths, eris.Wrapf(err, "routes: normalize %s", mode)
		}
		log.Info("sorted routes written", zap.String("mode", mode.String()), zap.Int("documents", n))
		paths = append(paths, path)
	}
	return paths, nil
}

func normalizeFile(ctx context.Context, src Source, loc Locator, mode model.Mode, path string) (int, error) {
	in, err := src(ctx)
	if err != nil {
		return 0, err
	}
	defer in.Close() //nolint:errcheck

	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrap(err, "routes: create output")
	}

	n, err := Normalize(ctx, in, out, mode, loc)
	if cerr := out.Close(); err == nil {
		err = eris.Wrap(cerr, "routes: close output")
	}
	if err != nil {
		_ = os.Remove(tmp)
		return n, err
	}
	return n, eris.Wrap(os.Rename(tmp, path), "routes: move output")
}

// Load reads a normalized array written by Normalize.
func Load(ctx context.Context, path string) ([]model.RouteRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "routes: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	docs, errs := fetcher.DecodeJSONArray[model.RouteRecord](ctx, bufio.NewReader(f))
	var out []model.RouteRecord
	for doc := range docs {
		out = append(out, doc)
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrapf(err, "routes: decode %s", path)
	}
	return out, nil
}
