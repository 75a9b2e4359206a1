package stores

import (
	"sort"

	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

// PinStore vends the interface to interact with pin and photo data. Implementations must apply every
// mutation against the latest persisted state so that concurrent writers never lose updates, and
// must keep each pin's NumberOfPhotos equal to the number of its photos having an image.
type PinStore interface {
	CreatePin(p *md.Pin) *pe.Err
	GetPin(pinID string) (*md.Pin, *pe.Err)
	// ListPins returns all pins, oldest first
	ListPins() ([]*md.Pin, *pe.Err)
	// SaveState persists the acquisition state of p, i.e., IsNew, RadiusIndex, CurrentPage and NumberOfPages.
	// It never writes NumberOfPhotos, and fails with NotFound if the pin had been deleted.
	SaveState(p *md.Pin) *pe.Err
	// DeletePin deletes the pin along with all its photos, and returns the deleted photos
	DeletePin(pinID string) ([]*md.Photo, *pe.Err)
	// AddPhotos attaches photos to the pin. It fails with NotFound if the pin had been deleted.
	AddPhotos(pinID string, photos []*md.Photo) *pe.Err
	GetPhoto(photoID string) (*md.Photo, *pe.Err)
	// ListPhotos returns photos of the pin, nearest first
	ListPhotos(pinID string) ([]*md.Photo, *pe.Err)
	// DeletePhoto deletes the photo and returns it. The owning pin's photo count drops iff the photo had an image.
	DeletePhoto(photoID string) (*md.Photo, *pe.Err)
	// DeletePhotos deletes all photos of the pin and returns them. The pin's photo count drops to zero.
	DeletePhotos(pinID string) ([]*md.Photo, *pe.Err)
	// MarkImageReady records ref as the image of the photo and counts the photo on its pin. It reports
	// false if the photo already had an image, and fails with NotFound if the photo had been deleted.
	MarkImageReady(photoID, ref string) (bool, *pe.Err)
	Close() *pe.Err
}

// sortPhotos orders photos nearest first, older first among photos at the same distance
func sortPhotos(photos []*md.Photo) {
	sort.SliceStable(photos, func(i, j int) bool {
		a, b := photos[i], photos[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if !a.CreationTime.Equal(b.CreationTime) {
			return a.CreationTime.Before(b.CreationTime)
		}
		return a.ID < b.ID
	})
}

func sortPins(pins []*md.Pin) {
	sort.SliceStable(pins, func(i, j int) bool {
		return pins[i].CreationTime.Before(pins[j].CreationTime)
	})
}

func pinNotFound(pinID string) *pe.Err {
	return pe.NewNotFound("pin " + pinID + " not found")
}

func photoNotFound(photoID string) *pe.Err {
	return pe.NewNotFound("photo " + photoID + " not found")
}
