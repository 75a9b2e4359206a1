package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	pe "wuyrush.io/tourist/errors"
	"wuyrush.io/tourist/models"
)

// Nominatim reverse geocodes coordinates with the OpenStreetMap Nominatim API.
// https://nominatim.org/release-docs/latest/api/Reverse/
type Nominatim struct {
	BaseURL string
	// Nominatim usage policy requires an identifying user agent
	UserAgent string
	HC        *http.Client
}

type nominatimAddress struct {
	City          string `json:"city"`
	Town          string `json:"town"`
	Village       string `json:"village"`
	Hamlet        string `json:"hamlet"`
	Neighbourhood string `json:"neighbourhood"`
	Suburb        string `json:"suburb"`
	Quarter       string `json:"quarter"`
	State         string `json:"state"`
	Country       string `json:"country"`
}

type nominatimReverse struct {
	Address nominatimAddress `json:"address"`
	// set when nothing is found at the location, e.g. in the middle of an ocean
	Error string `json:"error"`
}

func (n *Nominatim) ReverseGeocode(ctx context.Context, c models.Coordinate) (*Placemark, *pe.Err) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Longitude, 'f', -1, 64))
	q.Set("addressdetails", "1")
	q.Set("accept-language", "en")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, pe.NewGeocodeFailed("error creating reverse geocoding request").WithCause(err)
	}
	req.Header.Set("User-Agent", n.UserAgent)
	resp, err := n.HC.Do(req)
	if err != nil {
		return nil, pe.NewGeocodeFailed("error getting response from geocoder").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, pe.NewGeocodeFailed("geocoder rejected request").WithCause(fmt.Errorf("status %d", resp.StatusCode))
	}
	var body nominatimReverse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, pe.NewGeocodeFailed("error parsing geocoder response").WithCause(err)
	}
	if body.Error != "" {
		return &Placemark{}, nil
	}
	a := body.Address
	return &Placemark{
		Locality:           firstNonEmpty(a.City, a.Town, a.Village, a.Hamlet),
		SubLocality:        firstNonEmpty(a.Neighbourhood, a.Suburb, a.Quarter),
		AdministrativeArea: a.State,
		Country:            a.Country,
	}, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
