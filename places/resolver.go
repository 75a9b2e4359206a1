// Package places names coordinates for pins, preferring a nearby point of interest over reverse geocoding.
package places

import (
	"context"
	"fmt"
	"sort"

	"github.com/bluele/gcache"
	"wuyrush.io/tourist/common/logging"
	pe "wuyrush.io/tourist/errors"
	"wuyrush.io/tourist/geo"
	"wuyrush.io/tourist/models"
)

// POI is a named point of interest. Its placemark is optional.
type POI struct {
	Name       string
	Coordinate models.Coordinate
	Placemark  *Placemark
}

// Geocoder resolves the administrative hierarchy of a coordinate
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c models.Coordinate) (*Placemark, *pe.Err)
}

// POISearch lists points of interest within radius meters of a coordinate
type POISearch interface {
	Nearby(ctx context.Context, c models.Coordinate, radius float64) ([]POI, *pe.Err)
}

// Resolver names coordinates. It never fails; lookup failures degrade to coarser names, in the worst
// case "Somewhere" "on Planet Earth".
type Resolver struct {
	Geocoder Geocoder
	POI      POISearch
	// points of interest are considered only when the map zoom span in degrees of longitude is below MaxZoomSpan
	MaxZoomSpan float64
	// maximum distance in meters between a tapped coordinate and the point of interest it picks
	SearchRadius float64
	cache        gcache.Cache
}

func NewResolver(g Geocoder, p POISearch, maxZoomSpan, searchRadius float64, cacheSize int) *Resolver {
	r := &Resolver{
		Geocoder:     g,
		POI:          p,
		MaxZoomSpan:  maxZoomSpan,
		SearchRadius: searchRadius,
	}
	if cacheSize > 0 {
		r.cache = gcache.New(cacheSize).LRU().Build()
	}
	return r
}

// Resolve names coordinate c, tapped on a map showing zoomSpan degrees of longitude
func (r *Resolver) Resolve(ctx context.Context, c models.Coordinate, zoomSpan float64) models.Place {
	clog := logging.WithFuncName().WithField("coordinate", c.String())
	usePOI := r.POI != nil && zoomSpan < r.MaxZoomSpan
	// ~1m precision
	key := fmt.Sprintf("%.5f,%.5f,%t", c.Latitude, c.Longitude, usePOI)
	if r.cache != nil {
		if v, err := r.cache.Get(key); err == nil {
			return v.(models.Place)
		}
	}
	degraded := false
	var poi *POI
	if usePOI {
		pois, err := r.POI.Nearby(ctx, c, r.SearchRadius)
		if err != nil {
			clog.WithError(err).Warn("error searching points of interest; fall back to reverse geocoding")
			degraded = true
		} else {
			poi = nearest(c, pois)
		}
	}
	name, pm := "", (*Placemark)(nil)
	at := c
	if poi != nil {
		name, pm, at = poi.Name, poi.Placemark, poi.Coordinate
	}
	if pm.Empty() && r.Geocoder != nil {
		var err *pe.Err
		pm, err = r.Geocoder.ReverseGeocode(ctx, at)
		if err != nil {
			clog.WithError(err).Warn("error reverse geocoding coordinate")
			pm, degraded = nil, true
		}
	}
	place := Titles(name, pm)
	if poi != nil {
		loc := poi.Coordinate
		place.Location = &loc
	}
	clog.WithField("title", place.Title).Debug("resolved place")
	// failures may be transient; let later lookups try again
	if r.cache != nil && !degraded {
		_ = r.cache.Set(key, place)
	}
	return place
}

// nearest picks the point of interest closest to c; ties keep the result order
func nearest(c models.Coordinate, pois []POI) *POI {
	if len(pois) == 0 {
		return nil
	}
	sorted := make([]POI, len(pois))
	copy(sorted, pois)
	sort.SliceStable(sorted, func(i, j int) bool {
		return geo.Distance(c, sorted[i].Coordinate) < geo.Distance(c, sorted[j].Coordinate)
	})
	return &sorted[0]
}
