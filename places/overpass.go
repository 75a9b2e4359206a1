package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	pe "wuyrush.io/tourist/errors"
	"wuyrush.io/tourist/models"
)

// Overpass searches named points of interest with the OpenStreetMap Overpass API. The POIs it returns
// carry no placemark.
type Overpass struct {
	URL       string
	UserAgent string
	HC        *http.Client
}

type overpassCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *overpassCenter   `json:"center,omitempty"`
	Tags   map[string]string `json:"tags"`
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

// poiKeys are the OpenStreetMap tag keys marking a feature worth naming a pin after
const poiKeys = "^(amenity|tourism|historic|leisure|shop|building|man_made|natural)$"

func overpassQuery(c models.Coordinate, radius float64) string {
	around := fmt.Sprintf("(around:%.0f,%f,%f)", radius, c.Latitude, c.Longitude)
	return fmt.Sprintf(
		`[out:json][timeout:10];(node%[1]s[name][~"%[2]s"~"."];way%[1]s[name][~"%[2]s"~"."];);out center tags;`,
		around, poiKeys,
	)
}

func (o *Overpass) Nearby(ctx context.Context, c models.Coordinate, radius float64) ([]POI, *pe.Err) {
	form := url.Values{}
	form.Set("data", overpassQuery(c, radius))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pe.NewGeocodeFailed("error creating point of interest request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", o.UserAgent)
	resp, err := o.HC.Do(req)
	if err != nil {
		return nil, pe.NewGeocodeFailed("error getting response from point of interest search").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, pe.NewGeocodeFailed("point of interest search rejected request").WithCause(fmt.Errorf("status %d", resp.StatusCode))
	}
	var body overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, pe.NewGeocodeFailed("error parsing point of interest response").WithCause(err)
	}
	pois := make([]POI, 0, len(body.Elements))
	for _, e := range body.Elements {
		name := e.Tags["name"]
		if name == "" {
			continue
		}
		loc := models.Coordinate{Latitude: e.Lat, Longitude: e.Lon}
		if e.Center != nil {
			loc = models.Coordinate{Latitude: e.Center.Lat, Longitude: e.Center.Lon}
		}
		// addr:* tags are sparse and use country codes, so the placemark is left to the geocoder
		pois = append(pois, POI{Name: name, Coordinate: loc})
	}
	return pois, nil
}
