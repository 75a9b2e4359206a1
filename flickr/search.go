// Package flickr talks to the Flickr REST API: photo search around a coordinate, and image retrieval.
package flickr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"

	log "github.com/sirupsen/logrus"
	"wuyrush.io/tourist/common/logging"
	pe "wuyrush.io/tourist/errors"
	"wuyrush.io/tourist/models"
)

const (
	searchMethod = "flickr.photos.search"
	// Flickr wraps JSON bodies in a call to this function unless asked not to
	jsonCallback = "jsonFlickrApi"
)

// Item is one photo search result
type Item struct {
	RemoteID string
	Server   string
	Secret   string
	Title    string
	// set only for geotagged results
	Latitude  *float64
	Longitude *float64
}

// Coordinate returns where the photo was taken, or nil if Flickr did not say
func (i *Item) Coordinate() *models.Coordinate {
	if i.Latitude == nil || i.Longitude == nil {
		return nil
	}
	return &models.Coordinate{Latitude: *i.Latitude, Longitude: *i.Longitude}
}

// SearchResult is one page of photo search results
type SearchResult struct {
	Page         int
	TotalPages   int
	TotalResults int
	Items        []Item
}

// Client searches photos. It never retries; callers decide what to do on failure.
type Client struct {
	BaseURL string
	APIKey  string
	HC      *http.Client
}

// Search lists the page-th page of photos taken within radius kilometers of at
func (c *Client) Search(ctx context.Context, at models.Coordinate, radius float64, page int) (*SearchResult, *pe.Err) {
	clog := logging.WithFuncName().WithFields(log.Fields{"coordinate": at.String(), "radius": radius, "page": page})
	q := url.Values{}
	q.Set("method", searchMethod)
	q.Set("api_key", c.APIKey)
	q.Set("lat", strconv.FormatFloat(at.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(at.Longitude, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(radius, 'f', -1, 64))
	q.Set("per_page", strconv.Itoa(models.PhotosPerPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("extras", "geo")
	q.Set("format", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, pe.NewSearchFailed("error creating photo search request").WithCause(err)
	}
	resp, err := c.HC.Do(req)
	if err != nil {
		clog.WithError(err).Warn("error getting response from photo search")
		return nil, pe.NewSearchFailed("error getting response from photo search").WithCause(err)
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, pe.NewSearchFailed("error reading photo search response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		clog.WithField("status", resp.StatusCode).Warn("photo search rejected request")
		return nil, pe.NewSearchFailed("photo search rejected request").WithCause(fmt.Errorf("status %d", resp.StatusCode))
	}
	res, perr := ParseSearchResponse(body)
	if perr != nil {
		clog.WithError(perr).Warn("error parsing photo search response")
		return nil, perr
	}
	clog.WithFields(log.Fields{"items": len(res.Items), "totalPages": res.TotalPages}).Debug("searched photos")
	return res, nil
}

// ParseSearchResponse parses a photo search response body, wrapped in jsonFlickrApi(...) or not
func ParseSearchResponse(body []byte) (*SearchResult, *pe.Err) {
	var r searchResponse
	if err := json.Unmarshal(unwrap(body), &r); err != nil {
		return nil, pe.NewSearchFailed("error parsing photo search response").WithCause(err)
	}
	if r.Stat == "fail" {
		return nil, pe.NewSearchFailed("photo search failed").WithCause(fmt.Errorf("code %d: %s", r.Code, r.Message))
	}
	if r.Photos == nil {
		return nil, pe.NewSearchFailed("error parsing photo search response").WithCause(fmt.Errorf("no photos in response"))
	}
	res := &SearchResult{
		Page:         int(r.Photos.Page),
		TotalPages:   int(r.Photos.Pages),
		TotalResults: int(r.Photos.Total),
		Items:        make([]Item, 0, len(r.Photos.Photo)),
	}
	for _, p := range r.Photos.Photo {
		it := Item{
			RemoteID: string(p.ID),
			Server:   p.Server,
			Secret:   p.Secret,
			Title:    p.Title,
		}
		// Flickr reports 0 for photos without location
		if p.Latitude != nil && p.Longitude != nil && (*p.Latitude != 0 || *p.Longitude != 0) {
			lat, lon := float64(*p.Latitude), float64(*p.Longitude)
			it.Latitude, it.Longitude = &lat, &lon
		}
		res.Items = append(res.Items, it)
	}
	return res, nil
}

func unwrap(body []byte) []byte {
	b := bytes.TrimSpace(body)
	prefix := []byte(jsonCallback + "(")
	if bytes.HasPrefix(b, prefix) && bytes.HasSuffix(b, []byte(")")) {
		return b[len(prefix) : len(b)-1]
	}
	return b
}

type searchResponse struct {
	Photos  *photosPage `json:"photos"`
	Stat    string      `json:"stat"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
}

type photosPage struct {
	Page  flexInt      `json:"page"`
	Pages flexInt      `json:"pages"`
	Total flexInt      `json:"total"`
	Photo []photoEntry `json:"photo"`
}

type photoEntry struct {
	ID        flexString `json:"id"`
	Secret    string     `json:"secret"`
	Server    string     `json:"server"`
	Title     string     `json:"title"`
	Latitude  *flexFloat `json:"latitude"`
	Longitude *flexFloat `json:"longitude"`
}

// Flickr is loose about numbers; the same field may come as a JSON number or string

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type flexInt int

func (i *flexInt) UnmarshalJSON(b []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	*i = flexInt(f)
	return nil
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	*s = flexString(bytes.Trim(b, `"`))
	return nil
}
