package models

import (
	"fmt"
	"time"
)

/*
 Application layer data models.
*/

// PhotosPerPage is the page size requested from the photo search service, and the minimum number of
// photos a new pin needs before it stops widening its search radius.
const PhotosPerPage = 20

// DistanceFar is the distance assigned to photos without reported location. It exceeds any distance
// between two points on earth so such photos sort last.
const DistanceFar = 40075000.0

// Coordinate is a WGS84 position in degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%f, %f)", c.Latitude, c.Longitude)
}

// Place is the human readable naming of a coordinate. Location is set when the place is a point of
// interest, and is where a pin dropped on it shall sit.
type Place struct {
	Title    string      `json:"title"`
	Subtitle string      `json:"subtitle"`
	Location *Coordinate `json:"location,omitempty"`
}

// Pin is a user-placed marker and the root of one photo album. The acquisition state lives on the
// pin itself so that it survives restarts:
// - IsNew is true until a full first page of photos has been acquired
// - RadiusIndex indexes the search radius ladder
// - CurrentPage / NumberOfPages track pagination over search results once the pin is established
// - NumberOfPhotos counts live photos of the pin whose image has been fetched
type Pin struct {
	ID             string    `json:"id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Title          string    `json:"title"`
	Subtitle       string    `json:"subtitle"`
	CreationTime   time.Time `json:"creationTime"`
	IsNew          bool      `json:"isNew"`
	RadiusIndex    int       `json:"radiusIndex"`
	CurrentPage    int       `json:"currentPage"`
	NumberOfPages  int       `json:"numberOfPages"`
	NumberOfPhotos int       `json:"numberOfPhotos"`
}

// NewPin returns a pin in its initial acquisition state
func NewPin(id string, c Coordinate, p Place, now time.Time) *Pin {
	return &Pin{
		ID:            id,
		Latitude:      c.Latitude,
		Longitude:     c.Longitude,
		Title:         p.Title,
		Subtitle:      p.Subtitle,
		CreationTime:  now,
		IsNew:         true,
		CurrentPage:   1,
		NumberOfPages: 1,
	}
}

func (p *Pin) Coordinate() Coordinate {
	return Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

// AdvancePage moves an established pin to its next result page, wrapping to the first page after the
// last known one.
func (p *Pin) AdvancePage() {
	p.CurrentPage++
	if p.CurrentPage > p.NumberOfPages || p.CurrentPage < 1 {
		p.CurrentPage = 1
	}
}

// Establish marks the pin as having acquired a full first page
func (p *Pin) Establish(pages int) {
	p.IsNew = false
	p.CurrentPage = 1
	p.SetPages(pages)
}

// Reset puts the pin back into the new state; the radius index is kept so the next search restarts
// expansion from where it was.
func (p *Pin) Reset() {
	p.IsNew = true
	p.CurrentPage = 1
}

// SetPages records the page count last reported by the search service. Zero results still count as one
// (empty) page.
func (p *Pin) SetPages(pages int) {
	if pages < 1 {
		pages = 1
	}
	p.NumberOfPages = pages
	if !p.IsNew && p.CurrentPage > p.NumberOfPages {
		p.CurrentPage = 1
	}
}

// Photo is one remote image result attached to exactly one pin
type Photo struct {
	ID           string    `json:"id"`
	PinID        string    `json:"pinId"`
	RemoteID     string    `json:"remoteId"`
	Title        string    `json:"title,omitempty"`
	URL          string    `json:"url"`
	Distance     float64   `json:"distance"`
	ImageRef     string    `json:"-"`
	CreationTime time.Time `json:"creationTime"`
}

// HasImage reports whether the image bytes of the photo are cached
func (p *Photo) HasImage() bool {
	return p.ImageRef != ""
}

// PhotoView vends photo data for API responses
type PhotoView struct {
	Photo
	Ready bool `json:"ready"`
}

func NewPhotoView(p *Photo) PhotoView {
	return PhotoView{Photo: *p, Ready: p.HasImage()}
}

// AlbumView vends a pin together with its photos
type AlbumView struct {
	Title  string      `json:"title"`
	Pin    *Pin        `json:"pin"`
	Photos []PhotoView `json:"photos"`
}

// Viewport is the last map rect viewed by a client
type Viewport struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// WorldViewport is the viewport shown to clients which never saved one
var WorldViewport = Viewport{Longitude: -180, Latitude: 85, Width: 360, Height: 170}

func (v Viewport) Valid() bool {
	return v.Width > 0 && v.Height > 0 &&
		v.Latitude >= -90 && v.Latitude <= 90 &&
		v.Longitude >= -180 && v.Longitude <= 180
}

// Junk represents an image file which shall be removed from file storage
type Junk struct {
	Ref   string
	Since time.Time
}

type EventKind string

const (
	EventPinCreated      EventKind = "pin-created"
	EventPinChanged      EventKind = "pin-changed"
	EventPinDeleted      EventKind = "pin-deleted"
	EventPhotoAdded      EventKind = "photo-added"
	EventPhotoDeleted    EventKind = "photo-deleted"
	EventPhotoImageReady EventKind = "photo-image-ready"
)

// Event notifies subscribers about changes of pins and photos
type Event struct {
	Kind    EventKind `json:"kind"`
	PinID   string    `json:"pinId"`
	PhotoID string    `json:"photoId,omitempty"`
	Time    time.Time `json:"time"`
}
