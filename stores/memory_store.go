package stores

import (
	"sync"

	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

// MemoryStore is a PinStore keeping everything in process memory. It serves development setups and tests.
type MemoryStore struct {
	mu     sync.Mutex
	pins   map[string]*md.Pin
	photos map[string]*md.Photo
	// pin id -> ids of its photos
	album map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pins:   make(map[string]*md.Pin),
		photos: make(map[string]*md.Photo),
		album:  make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) CreatePin(p *md.Pin) *pe.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pins[p.ID]; ok {
		return pe.NewBadInput("pin " + p.ID + " already exists")
	}
	cp := *p
	s.pins[p.ID] = &cp
	s.album[p.ID] = make(map[string]struct{})
	return nil
}

func (s *MemoryStore) GetPin(pinID string) (*md.Pin, *pe.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pinID]
	if !ok {
		return nil, pinNotFound(pinID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPins() ([]*md.Pin, *pe.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pins := make([]*md.Pin, 0, len(s.pins))
	for _, p := range s.pins {
		cp := *p
		pins = append(pins, &cp)
	}
	sortPins(pins)
	return pins, nil
}

func (s *MemoryStore) SaveState(p *md.Pin) *pe.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.pins[p.ID]
	if !ok {
		return pinNotFound(p.ID)
	}
	stored.IsNew = p.IsNew
	stored.RadiusIndex = p.RadiusIndex
	stored.CurrentPage = p.CurrentPage
	stored.NumberOfPages = p.NumberOfPages
	return nil
}

func (s *MemoryStore) DeletePin(pinID string) ([]*md.Photo, *pe.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pins[pinID]; !ok {
		return nil, pinNotFound(pinID)
	}
	deleted := s.deletePhotos(pinID)
	delete(s.pins, pinID)
	delete(s.album, pinID)
	return deleted, nil
}

func (s *MemoryStore) AddPhotos(pinID string, photos []*md.Photo) *pe.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.album[pinID]
	if !ok {
		return pinNotFound(pinID)
	}
	for _, ph := range photos {
		ph.PinID = pinID
		cp := *ph
		s.photos[ph.ID] = &cp
		ids[ph.ID] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) GetPhoto(photoID string) (*md.Photo, *pe.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ph, ok := s.photos[photoID]
	if !ok {
		return nil, photoNotFound(photoID)
	}
	cp := *ph
	return &cp, nil
}

func (s *MemoryStore) ListPhotos(pinID string) ([]*md.Photo, *pe.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.album[pinID]
	if !ok {
		return nil, pinNotFound(pinID)
	}
	photos := make([]*md.Photo, 0, len(ids))
	for id := range ids {
		cp := *s.photos[id]
		photos = append(photos, &cp)
	}
	sortPhotos(photos)
	return photos, nil
}

func (s *MemoryStore) DeletePhoto(photoID string) (*md.Photo, *pe.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ph, ok := s.photos[photoID]
	if !ok {
		return nil, photoNotFound(photoID)
	}
	delete(s.photos, photoID)
	delete(s.album[ph.PinID], photoID)
	if p, ok := s.pins[ph.PinID]; ok && ph.HasImage() {
		p.NumberOfPhotos--
	}
	return ph, nil
}

func (s *MemoryStore) DeletePhotos(pinID string) ([]*md.Photo, *pe.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pins[pinID]; !ok {
		return nil, pinNotFound(pinID)
	}
	return s.deletePhotos(pinID), nil
}

// deletePhotos requires s.mu being held
func (s *MemoryStore) deletePhotos(pinID string) []*md.Photo {
	deleted := make([]*md.Photo, 0, len(s.album[pinID]))
	for id := range s.album[pinID] {
		deleted = append(deleted, s.photos[id])
		delete(s.photos, id)
	}
	s.album[pinID] = make(map[string]struct{})
	s.pins[pinID].NumberOfPhotos = 0
	sortPhotos(deleted)
	return deleted
}

func (s *MemoryStore) MarkImageReady(photoID, ref string) (bool, *pe.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ph, ok := s.photos[photoID]
	if !ok {
		return false, photoNotFound(photoID)
	}
	if ph.HasImage() {
		return false, nil
	}
	ph.ImageRef = ref
	if p, ok := s.pins[ph.PinID]; ok {
		p.NumberOfPhotos++
	}
	return true, nil
}

func (s *MemoryStore) Close() *pe.Err {
	return nil
}
