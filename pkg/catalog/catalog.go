// Package catalog answers proximity and name queries over the catalog and
// frame stores.
//
// Proximity search is two-phase: a declination/RA bounding box sized to the
// radius selects candidates through the (decl, ra) index, then every
// candidate is confirmed with the exact great-circle distance. The box is a
// strict superset of the search circle, so the result is exact.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hevelius/hevelius/pkg/logging"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/validation"
)

// Store is the part of the catalog and frame stores the index reads.
type Store interface {
	FindObjects(ctx context.Context, key string) ([]storage.CatalogObject, error)
	ObjectsInBox(ctx context.Context, box sky.Box, catalogs []string) ([]storage.CatalogObject, error)
	FramesInBox(ctx context.Context, box sky.Box) ([]storage.Frame, error)
	ListCatalogs(ctx context.Context) ([]storage.CatalogInfo, error)
	ListObjects(ctx context.Context, f storage.ObjectFilter) ([]storage.CatalogObject, error)
}

// Index is safe for concurrent use; it holds no state of its own.
type Index struct {
	store Store
	log   logging.Logger
}

// New returns an Index over store. log may be nil.
func New(store Store, log logging.Logger) *Index {
	return &Index{store: store, log: logging.OrNop(log)}
}

// Match is a search hit.
type Match struct {
	Object   storage.CatalogObject `json:"object"`
	Distance float64               `json:"distance"` // degrees
}

// FrameMatch is a frame near a search center.
type FrameMatch struct {
	Frame    storage.Frame `json:"frame"`
	Distance float64       `json:"distance"`
}

// Resolve looks a designation up by normalized name or alias. When several
// objects match, a primary designation wins over an alias, then catalog and
// name order decide. Unknown names yield storage.ErrNotFound.
func (ix *Index) Resolve(ctx context.Context, name string) (storage.CatalogObject, error) {
	if strings.TrimSpace(name) == "" {
		return storage.CatalogObject{}, validation.Field("name", "is required")
	}
	objs, err := ix.store.FindObjects(ctx, name)
	if err != nil {
		return storage.CatalogObject{}, err
	}
	if len(objs) == 0 {
		return storage.CatalogObject{}, fmt.Errorf("object %q: %w", name, storage.ErrNotFound)
	}
	if len(objs) > 1 {
		ix.log.Debugf("%q matches %d objects, using %s/%s", name, len(objs), objs[0].Catalog, objs[0].Name)
	}
	return objs[0], nil
}

// Search returns the objects within radius degrees of center, nearest first.
// Ties are broken by catalog then name. catalogs restricts the search; every
// tag given must be loaded.
func (ix *Index) Search(ctx context.Context, center sky.Point, radius float64, catalogs ...string) ([]Match, error) {
	if err := checkQuery(center, radius); err != nil {
		return nil, err
	}
	if err := ix.checkCatalogs(ctx, catalogs); err != nil {
		return nil, err
	}

	box := sky.BoundingBox(center, radius)
	candidates, err := ix.store.ObjectsInBox(ctx, box, catalogs)
	if err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(candidates))
	for _, o := range candidates {
		d := sky.AngularDistance(center, sky.Point{RA: o.RA, Dec: o.Dec})
		if d <= radius {
			out = append(out, Match{Object: o, Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Object.Catalog != b.Object.Catalog {
			return a.Object.Catalog < b.Object.Catalog
		}
		return a.Object.Name < b.Object.Name
	})
	ix.log.Debugf("search r=%.4f around (%.4f, %.4f): %d candidates, %d matches", radius, center.RA, center.Dec, len(candidates), len(out))
	return out, nil
}

// SearchByName resolves name and searches around it. The resolved object is
// part of the result at distance zero.
func (ix *Index) SearchByName(ctx context.Context, name string, radius float64, catalogs ...string) (storage.CatalogObject, []Match, error) {
	obj, err := ix.Resolve(ctx, name)
	if err != nil {
		return obj, nil, err
	}
	matches, err := ix.Search(ctx, sky.Point{RA: obj.RA, Dec: obj.Dec}, radius, catalogs...)
	return obj, matches, err
}

// FramesNear returns the frames within radius degrees of center, nearest
// first, ties broken by capture time then id.
func (ix *Index) FramesNear(ctx context.Context, center sky.Point, radius float64) ([]FrameMatch, error) {
	if err := checkQuery(center, radius); err != nil {
		return nil, err
	}
	candidates, err := ix.store.FramesInBox(ctx, sky.BoundingBox(center, radius))
	if err != nil {
		return nil, err
	}
	out := make([]FrameMatch, 0, len(candidates))
	for _, f := range candidates {
		d := sky.AngularDistance(center, sky.Point{RA: f.RA, Dec: f.Dec})
		if d <= radius {
			out = append(out, FrameMatch{Frame: f, Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if !a.Frame.CapturedAt.Equal(b.Frame.CapturedAt) {
			return a.Frame.CapturedAt.Before(b.Frame.CapturedAt)
		}
		return a.Frame.ID < b.Frame.ID
	})
	return out, nil
}

// Catalogs lists the loaded catalog tags.
func (ix *Index) Catalogs(ctx context.Context) ([]storage.CatalogInfo, error) {
	return ix.store.ListCatalogs(ctx)
}

// List pages through objects, see storage.ObjectFilter.
func (ix *Index) List(ctx context.Context, f storage.ObjectFilter) ([]storage.CatalogObject, error) {
	if f.Catalog != "" {
		if err := ix.checkCatalogs(ctx, []string{f.Catalog}); err != nil {
			return nil, err
		}
	}
	return ix.store.ListObjects(ctx, f)
}

func checkQuery(center sky.Point, radius float64) error {
	if err := sky.ValidatePoint(center); err != nil {
		return err
	}
	if !(radius > 0) {
		return validation.Field("radius", "must be > 0, got %v", radius)
	}
	return nil
}

func (ix *Index) checkCatalogs(ctx context.Context, catalogs []string) error {
	if len(catalogs) == 0 {
		return nil
	}
	loaded, err := ix.store.ListCatalogs(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(loaded))
	for _, c := range loaded {
		known[c.Catalog] = true
	}
	for _, c := range catalogs {
		if !known[storage.NormalizeCatalog(c)] {
			return validation.Field("catalog", "unknown catalog %q", c)
		}
	}
	return nil
}
