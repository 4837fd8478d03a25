package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/validation"
)

func newTestIndex(t *testing.T) (*Index, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "catalog.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil), db
}

func loadMessier(t *testing.T, db *storage.DB) {
	t.Helper()
	tag, objs, err := Builtin("messier")
	require.NoError(t, err)
	require.Len(t, objs, 110)
	_, err = db.LoadCatalog(context.Background(), tag, objs)
	require.NoError(t, err)
}

func TestResolve(t *testing.T) {
	ix, db := newTestIndex(t)
	loadMessier(t, db)
	ctx := context.Background()

	m1, err := ix.Resolve(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, "M", m1.Catalog)
	assert.InDelta(t, 83.633, m1.RA, 0.001)
	assert.InDelta(t, 22.0145, m1.Dec, 0.0001)
	assert.Equal(t, "Crab Nebula", m1.Descr)

	for _, alias := range []string{"m 1", "ngc1952", "NGC 1952"} {
		obj, err := ix.Resolve(ctx, alias)
		require.NoError(t, err, alias)
		assert.Equal(t, "M1", obj.Name, alias)
	}

	_, err = ix.Resolve(ctx, "nonexistent-xyz")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	_, err = ix.Resolve(ctx, "  ")
	assert.True(t, validation.IsValidationError(err))
}

func TestSearchIsExact(t *testing.T) {
	ix, db := newTestIndex(t)
	ctx := context.Background()

	r := rand.New(rand.NewSource(1))
	var objs []storage.CatalogObject
	for i := 0; i < 1500; i++ {
		objs = append(objs, storage.CatalogObject{
			Name: fmt.Sprintf("R%04d", i),
			RA:   r.Float64() * 360,
			// Uniform on the sphere so the poles are populated too.
			Dec: sky.Rad2Deg(math.Asin(2*r.Float64() - 1)),
		})
	}
	// Points sitting on the RA seam and at the poles.
	objs = append(objs,
		storage.CatalogObject{Name: "SEAM-A", RA: 0, Dec: 0},
		storage.CatalogObject{Name: "SEAM-B", RA: 359.9999, Dec: 0.5},
		storage.CatalogObject{Name: "NP", RA: 123, Dec: 90},
		storage.CatalogObject{Name: "SP", RA: 0, Dec: -90},
	)
	_, err := db.LoadCatalog(ctx, "T", objs)
	require.NoError(t, err)

	centers := []sky.Point{{RA: 0, Dec: 0}, {RA: 359.95, Dec: 0.2}, {RA: 180, Dec: 45}, {RA: 10, Dec: 89.9}, {RA: 200, Dec: -88}, {RA: 90, Dec: -30}}
	for _, c := range centers {
		for _, radius := range []float64{0.5, 3, 20, 75, 179.9, 250} {
			got, err := ix.Search(ctx, c, radius)
			require.NoError(t, err)

			want := []string{}
			for _, o := range objs {
				if sky.AngularDistance(c, sky.Point{RA: o.RA, Dec: o.Dec}) <= radius {
					want = append(want, o.Name)
				}
			}
			names := make([]string, len(got))
			for i, m := range got {
				names[i] = m.Object.Name
				if i > 0 {
					require.LessOrEqual(t, got[i-1].Distance, m.Distance)
				}
			}
			sort.Strings(want)
			sort.Strings(names)
			require.Equal(t, want, names, "center %v radius %v", c, radius)
		}
	}

	all, err := ix.Search(ctx, sky.Point{RA: 10, Dec: 10}, 181)
	require.NoError(t, err)
	assert.Len(t, all, len(objs))
}

func TestSearchOrderingAndFilters(t *testing.T) {
	ix, db := newTestIndex(t)
	ctx := context.Background()
	_, err := db.LoadCatalog(ctx, "NGC", []storage.CatalogObject{
		{Name: "NGC 2", RA: 10, Dec: 10},
		{Name: "NGC 1", RA: 10, Dec: 10},
		{Name: "NGC 3", RA: 10.5, Dec: 10},
	})
	require.NoError(t, err)
	_, err = db.LoadCatalog(ctx, "IC", []storage.CatalogObject{{Name: "IC 9", RA: 10, Dec: 10}})
	require.NoError(t, err)

	got, err := ix.Search(ctx, sky.Point{RA: 10, Dec: 10}, 1)
	require.NoError(t, err)
	var order []string
	for _, m := range got {
		order = append(order, m.Object.Catalog+"/"+m.Object.Name)
	}
	assert.Equal(t, []string{"IC/IC 9", "NGC/NGC 1", "NGC/NGC 2", "NGC/NGC 3"}, order)

	got, err = ix.Search(ctx, sky.Point{RA: 10, Dec: 10}, 1, "ngc")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = ix.Search(ctx, sky.Point{RA: 10, Dec: 10}, 1, "XYZ")
	var ve *validation.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "catalog", ve.Field)

	none, err := ix.Search(ctx, sky.Point{RA: 200, Dec: -40}, 1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchRejectsBadInput(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()
	for _, radius := range []float64{0, -1} {
		_, err := ix.Search(ctx, sky.Point{RA: 10, Dec: 10}, radius)
		var ve *validation.Error
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "radius", ve.Field)
	}
	_, err := ix.Search(ctx, sky.Point{RA: 10, Dec: 100}, 1)
	assert.True(t, validation.IsValidationError(err))

	_, err = ix.FramesNear(ctx, sky.Point{RA: 10, Dec: 10}, 0)
	assert.True(t, validation.IsValidationError(err))
}

func TestSearchByName(t *testing.T) {
	ix, db := newTestIndex(t)
	loadMessier(t, db)
	ctx := context.Background()

	obj, matches, err := ix.SearchByName(ctx, "M42", 0.5)
	require.NoError(t, err)
	assert.Equal(t, "M42", obj.Name)
	require.Len(t, matches, 2)
	assert.Equal(t, "M42", matches[0].Object.Name)
	assert.Equal(t, 0.0, matches[0].Distance)
	assert.Equal(t, "M43", matches[1].Object.Name)
}

func TestFramesNear(t *testing.T) {
	ix, db := newTestIndex(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC)
	_, err := db.AddFrames(ctx, []storage.Frame{
		{Filename: "b.fits", RA: 83.7, Dec: 22.0, CapturedAt: at.Add(time.Minute)},
		{Filename: "a.fits", RA: 83.7, Dec: 22.0, CapturedAt: at},
		{Filename: "c.fits", RA: 83.633, Dec: 22.0145, CapturedAt: at},
		{Filename: "far.fits", RA: 10, Dec: 41, CapturedAt: at},
	})
	require.NoError(t, err)

	got, err := ix.FramesNear(ctx, sky.Point{RA: 83.633, Dec: 22.0145}, 1)
	require.NoError(t, err)
	var names []string
	for _, m := range got {
		names = append(names, m.Frame.Filename)
	}
	assert.Equal(t, []string{"c.fits", "a.fits", "b.fits"}, names)
}

func TestCatalogsAndList(t *testing.T) {
	ix, db := newTestIndex(t)
	loadMessier(t, db)
	ctx := context.Background()

	cats, err := ix.Catalogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.CatalogInfo{{Catalog: "M", Objects: 110}}, cats)

	sgr, err := ix.List(ctx, storage.ObjectFilter{Catalog: "m", Constellation: "sgr"})
	require.NoError(t, err)
	assert.Len(t, sgr, 15)

	page, err := ix.List(ctx, storage.ObjectFilter{Limit: 10, Offset: 100})
	require.NoError(t, err)
	require.Len(t, page, 10)
	assert.Equal(t, "M101", page[0].Name)

	_, err = ix.List(ctx, storage.ObjectFilter{Catalog: "nope"})
	assert.True(t, validation.IsValidationError(err))

	_, _, err = Builtin("caldwell")
	assert.Error(t, err)
}
