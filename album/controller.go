// Package album acquires photos for pins: it widens the search radius of new pins until enough photos
// turn up, pages through results of established ones, and caches the images of attached photos.
package album

import (
	"bytes"
	"context"
	"hash/fnv"
	"io/ioutil"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/segmentio/ksuid"
	"wuyrush.io/tourist/common/logging"
	cst "wuyrush.io/tourist/constants"
	pe "wuyrush.io/tourist/errors"
	"wuyrush.io/tourist/flickr"
	"wuyrush.io/tourist/geo"
	md "wuyrush.io/tourist/models"
	"wuyrush.io/tourist/stores"
)

const (
	pinLockStripes         = 64
	wipCacheSize           = 4096
	defaultFetcherPoolSize = 8
	defaultFetchTimeout    = 30 * time.Second
)

// Searcher lists photos taken around a coordinate
type Searcher interface {
	Search(ctx context.Context, at md.Coordinate, radius float64, page int) (*flickr.SearchResult, *pe.Err)
}

// ImageFetcher retrieves image bytes by url
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, *pe.Err)
}

// PlaceResolver names a tapped coordinate
type PlaceResolver interface {
	Resolve(ctx context.Context, c md.Coordinate, zoomSpan float64) md.Place
}

type Config struct {
	PS       stores.PinStore
	FS       stores.FileStore
	JS       stores.JunkStore
	Searcher Searcher
	Fetcher  ImageFetcher
	Resolver PlaceResolver
	// optional
	Events          Publisher
	Ladder          geo.Ladder
	ImageBaseURL    string
	FetcherPoolSize int
	FetchTimeout    time.Duration
}

// Controller drives photo acquisition of pins. Calls touching the same pin are serialized, calls for
// different pins run concurrently. Images are fetched in background on a bounded pool.
type Controller struct {
	ps       stores.PinStore
	fs       stores.FileStore
	js       stores.JunkStore
	searcher Searcher
	fetcher  ImageFetcher
	resolver PlaceResolver
	events   Publisher

	ladder       geo.Ladder
	imageBaseURL string
	fetchTimeout time.Duration

	locks [pinLockStripes]sync.Mutex
	quota chan struct{}
	// ids of photos whose image is being fetched
	wip gcache.Cache
	wg  sync.WaitGroup
	// mu guards claims on wip, and wg.Add against Wait and Close
	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	now   func() time.Time
	newID func() string
}

func NewController(cfg Config) *Controller {
	if cfg.Ladder == nil {
		cfg.Ladder = geo.DefaultLadder
	}
	if cfg.FetcherPoolSize <= 0 {
		cfg.FetcherPoolSize = defaultFetcherPoolSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		ps:           cfg.PS,
		fs:           cfg.FS,
		js:           cfg.JS,
		searcher:     cfg.Searcher,
		fetcher:      cfg.Fetcher,
		resolver:     cfg.Resolver,
		events:       cfg.Events,
		ladder:       cfg.Ladder,
		imageBaseURL: cfg.ImageBaseURL,
		fetchTimeout: cfg.FetchTimeout,
		quota:        make(chan struct{}, cfg.FetcherPoolSize),
		wip:          gcache.New(wipCacheSize).LRU().Build(),
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
		newID: func() string {
			return ksuid.New().String()
		},
	}
}

// CreatePin drops a new pin at c, or at the point of interest c resolves to
func (c *Controller) CreatePin(ctx context.Context, at md.Coordinate, zoomSpan float64) (*md.Pin, *pe.Err) {
	if at.Latitude < -90 || at.Latitude > 90 || at.Longitude < -180 || at.Longitude > 180 {
		return nil, pe.NewBadInput("coordinate out of range")
	}
	place := c.resolver.Resolve(ctx, at, zoomSpan)
	if place.Location != nil {
		at = *place.Location
	}
	p := md.NewPin(c.newID(), at, place, c.now())
	if err := c.ps.CreatePin(p); err != nil {
		logging.WithFuncName().WithError(err).Error("error creating pin")
		return nil, err
	}
	c.emit(md.EventPinCreated, p.ID, "")
	return p, nil
}

// FindPhotos acquires the next batch of photos for the pin and returns the pin's updated state.
// A new pin widens its search radius until a full page turns up; failures of its search are returned.
// An established pin moves on to its next result page; should that search fail the pin quietly
// becomes new again.
func (c *Controller) FindPhotos(ctx context.Context, pinID string) (*md.Pin, *pe.Err) {
	mu := c.lock(pinID)
	mu.Lock()
	defer mu.Unlock()
	return c.findPhotos(ctx, pinID)
}

// NewPage drops every photo of the pin then acquires a fresh batch
func (c *Controller) NewPage(ctx context.Context, pinID string) (*md.Pin, *pe.Err) {
	mu := c.lock(pinID)
	mu.Lock()
	defer mu.Unlock()
	photos, err := c.ps.DeletePhotos(pinID)
	if err != nil {
		return nil, err
	}
	c.discard(photos)
	for _, ph := range photos {
		c.emit(md.EventPhotoDeleted, pinID, ph.ID)
	}
	return c.findPhotos(ctx, pinID)
}

func (c *Controller) findPhotos(ctx context.Context, pinID string) (*md.Pin, *pe.Err) {
	p, err := c.ps.GetPin(pinID)
	if err != nil {
		return nil, err
	}
	if p.IsNew {
		err = c.expand(ctx, p)
	} else {
		err = c.nextPage(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	return c.ps.GetPin(pinID)
}

// expand searches the first result page at the pin's radius, moving up the radius ladder while fewer than
// a full page of photos turns up. Radius progress is persisted as it is made.
func (c *Controller) expand(ctx context.Context, p *md.Pin) *pe.Err {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, p.ID)
	for {
		if err := ctx.Err(); err != nil {
			return pe.NewSearchFailed("photo search cancelled").WithCause(err)
		}
		radius := c.ladder.Radius(p.RadiusIndex)
		res, err := c.searcher.Search(ctx, p.Coordinate(), radius, 1)
		if err != nil {
			clog.WithError(err).WithField("radius", radius).Error("error searching photos for new pin")
			return err
		}
		if len(res.Items) < md.PhotosPerPage && !c.ladder.Last(p.RadiusIndex) {
			p.RadiusIndex = c.ladder.Advance(p.RadiusIndex)
			clog.WithField("radius", c.ladder.Radius(p.RadiusIndex)).Debug("widening search radius")
			if err := c.saveState(p); err != nil {
				return err
			}
			continue
		}
		if len(res.Items) >= md.PhotosPerPage {
			p.Establish(res.TotalPages)
		} else {
			p.SetPages(res.TotalPages)
		}
		if err := c.saveState(p); err != nil {
			return err
		}
		return c.attach(p, res.Items)
	}
}

func (c *Controller) nextPage(ctx context.Context, p *md.Pin) *pe.Err {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, p.ID)
	p.AdvancePage()
	res, err := c.searcher.Search(ctx, p.Coordinate(), c.ladder.Radius(p.RadiusIndex), p.CurrentPage)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		clog.WithError(err).WithField("page", p.CurrentPage).Warn("error searching photos for established pin; pin becomes new again")
		p.Reset()
		return c.saveState(p)
	}
	p.SetPages(res.TotalPages)
	if err := c.saveState(p); err != nil {
		return err
	}
	return c.attach(p, res.Items)
}

func (c *Controller) saveState(p *md.Pin) *pe.Err {
	if err := c.ps.SaveState(p); err != nil {
		logging.WithFuncName().WithField(cst.LogFieldPinID, p.ID).WithError(err).Error("error saving pin state")
		return err
	}
	c.emit(md.EventPinChanged, p.ID, "")
	return nil
}

// attach creates photos for items not yet attached to the pin, then has their images fetched in background
func (c *Controller) attach(p *md.Pin, items []flickr.Item) *pe.Err {
	existing, err := c.ps.ListPhotos(p.ID)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(existing)+len(items))
	for _, ph := range existing {
		seen[ph.RemoteID] = struct{}{}
	}
	now := c.now()
	photos := make([]*md.Photo, 0, len(items))
	for i := range items {
		it := &items[i]
		if _, ok := seen[it.RemoteID]; ok {
			continue
		}
		seen[it.RemoteID] = struct{}{}
		photos = append(photos, &md.Photo{
			ID:       c.newID(),
			PinID:    p.ID,
			RemoteID: it.RemoteID,
			Title:    it.Title,
			URL:      flickr.ImageURL(c.imageBaseURL, *it),
			Distance: geo.DistanceOrFar(p.Coordinate(), it.Coordinate()),
			// keeps search result order among photos at the same distance
			CreationTime: now.Add(time.Duration(i)),
		})
	}
	if len(photos) == 0 {
		return nil
	}
	if err := c.ps.AddPhotos(p.ID, photos); err != nil {
		logging.WithFuncName().WithField(cst.LogFieldPinID, p.ID).WithError(err).Error("error attaching photos")
		return err
	}
	for _, ph := range photos {
		c.emit(md.EventPhotoAdded, p.ID, ph.ID)
	}
	for _, ph := range photos {
		c.dispatch(ph)
	}
	return nil
}

// dispatch fetches the image of ph on the fetch pool unless a fetch of it is in flight already
func (c *Controller) dispatch(ph *md.Photo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.claim(ph.ID) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.wip.Remove(ph.ID)
		select {
		case c.quota <- struct{}{}:
		case <-c.ctx.Done():
			return
		}
		defer func() { <-c.quota }()
		ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
		defer cancel()
		if _, err := c.loadImage(ctx, ph); err != nil {
			logging.WithFuncName().
				WithField(cst.LogFieldPhotoID, ph.ID).
				WithError(err).
				Warn("error loading image; it will be fetched again on view")
		}
	}()
}

// claim marks photoID in flight; the mark stays until the fetch goroutine removes it. c.mu must be held.
func (c *Controller) claim(photoID string) bool {
	if _, err := c.wip.Get(photoID); err != gcache.KeyNotFoundError {
		return false
	}
	_ = c.wip.Set(photoID, struct{}{})
	return true
}

// loadImage fetches and caches the image of ph. The image is only counted if the photo still exists once
// its bytes are in; otherwise the file is removed again.
func (c *Controller) loadImage(ctx context.Context, ph *md.Photo) ([]byte, *pe.Err) {
	clog := logging.WithFuncName().WithField(cst.LogFieldPhotoID, ph.ID)
	b, err := c.fetcher.Fetch(ctx, ph.URL)
	if err != nil {
		return nil, err
	}
	ref := c.fs.Ref(ph.PinID, ph.ID)
	if err := c.fs.Save(ref, bytes.NewReader(b)); err != nil {
		return nil, err
	}
	marked, err := c.ps.MarkImageReady(ph.ID, ref)
	if err != nil {
		if pe.Is(err, pe.ErrCodeNotFound) {
			clog.Debug("photo deleted while its image was fetched")
			if derr := c.fs.Delete(ref); derr != nil {
				clog.WithError(derr).Error("error removing image of deleted photo")
			}
		}
		return nil, err
	}
	if marked {
		c.emit(md.EventPhotoImageReady, ph.PinID, ph.ID)
	}
	return b, nil
}

// LoadImage returns the image bytes of the photo, fetching them first if they are not cached yet
func (c *Controller) LoadImage(ctx context.Context, photoID string) ([]byte, *pe.Err) {
	ph, err := c.ps.GetPhoto(photoID)
	if err != nil {
		return nil, err
	}
	if ph.HasImage() {
		b, err := c.readImage(ph.ImageRef)
		if err == nil {
			return b, nil
		}
		if !pe.Is(err, pe.ErrCodeNotFound) {
			return nil, err
		}
		logging.WithFuncName().WithField(cst.LogFieldPhotoID, ph.ID).Warn("cached image missing; fetching it again")
	}
	return c.loadImage(ctx, ph)
}

func (c *Controller) readImage(ref string) ([]byte, *pe.Err) {
	rc, err := c.fs.Get(ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, rerr := ioutil.ReadAll(rc)
	if rerr != nil {
		return nil, pe.NewPersistenceFailed("error reading image").WithCause(rerr)
	}
	return b, nil
}

func (c *Controller) DeletePhoto(photoID string) *pe.Err {
	ph, err := c.ps.DeletePhoto(photoID)
	if err != nil {
		return err
	}
	c.discard([]*md.Photo{ph})
	c.emit(md.EventPhotoDeleted, ph.PinID, ph.ID)
	return nil
}

// DeletePin deletes the pin along with its photos
func (c *Controller) DeletePin(pinID string) *pe.Err {
	mu := c.lock(pinID)
	mu.Lock()
	defer mu.Unlock()
	photos, err := c.ps.DeletePin(pinID)
	if err != nil {
		return err
	}
	c.discard(photos)
	c.emit(md.EventPinDeleted, pinID, "")
	return nil
}

// Album returns the pin with its photos, nearest first
func (c *Controller) Album(pinID string) (*md.AlbumView, *pe.Err) {
	p, err := c.ps.GetPin(pinID)
	if err != nil {
		return nil, err
	}
	photos, err := c.ps.ListPhotos(pinID)
	if err != nil {
		return nil, err
	}
	views := make([]md.PhotoView, 0, len(photos))
	for _, ph := range photos {
		views = append(views, md.NewPhotoView(ph))
	}
	return &md.AlbumView{Title: Title(p), Pin: p, Photos: views}, nil
}

// discard hands image files of deleted photos over to the deleter. Refs are derived rather than read from
// the photos since a fetch in flight may still write the file.
func (c *Controller) discard(photos []*md.Photo) {
	if len(photos) == 0 {
		return
	}
	refs := make([]string, 0, len(photos))
	for _, ph := range photos {
		refs = append(refs, c.fs.Ref(ph.PinID, ph.ID))
	}
	if err := c.js.Discard(refs...); err != nil {
		logging.WithFuncName().WithError(err).WithField("refs", len(refs)).Error("error discarding images")
	}
}

func (c *Controller) emit(kind md.EventKind, pinID, photoID string) {
	if c.events == nil {
		return
	}
	e := md.Event{Kind: kind, PinID: pinID, PhotoID: photoID, Time: c.now()}
	if err := c.events.Publish(e); err != nil {
		logging.WithFuncName().WithError(err).WithField("kind", kind).Warn("error publishing event")
	}
}

func (c *Controller) lock(pinID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(pinID))
	return &c.locks[h.Sum32()%pinLockStripes]
}

// Wait blocks until all image fetches in flight are done. New fetches are held back meanwhile.
func (c *Controller) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wg.Wait()
}

// Close cancels image fetches in flight and waits for them to return. No fetch is started after Close.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
