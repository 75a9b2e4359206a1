package stores

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kivik/couchdb/v3"
	"github.com/go-kivik/kivik/v3"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/tourist/common/logging"
	"wuyrush.io/tourist/common/retry"
	cst "wuyrush.io/tourist/constants"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

const (
	docTypePin   = "pin"
	docTypePhoto = "photo"
	// upper bound of documents a single Mango query returns
	findLimit = 100000
)

// CouchStore implements PinStore with CouchDB. Pins and photos are documents of one database told apart by
// their type field. CouchDB has no multi-document transactions; every document update is checked against
// its revision and retried on conflict, and pin photo counts are recounted after each photo mutation.
type CouchStore struct {
	DB             *kivik.DB
	RequestTimeout time.Duration
	ConflictRetry  int64
}

type CouchConfig struct {
	DBAddr               string
	DBName               string
	DBUsername, DBPasswd string
	ConflictRetry        int64
	// fields below are optional
	RT             http.RoundTripper
	RequestTimeout time.Duration
}

type pinDoc struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"type"`
	md.Pin
}

type photoDoc struct {
	ID       string `json:"_id"`
	Rev      string `json:"_rev,omitempty"`
	Type     string `json:"type"`
	ImageRef string `json:"imageRef"`
	md.Photo
}

func (d *photoDoc) photo() *md.Photo {
	ph := d.Photo
	ph.ImageRef = d.ImageRef
	return &ph
}

func pinDocID(pinID string) string {
	return docTypePin + ":" + pinID
}

func photoDocID(photoID string) string {
	return docTypePhoto + ":" + photoID
}

// NewCouchStore connects to CouchDB and creates the database if it does not exist yet
func NewCouchStore(ctx context.Context, cfg *CouchConfig) (*CouchStore, *pe.Err) {
	clog := logging.WithFuncName().WithFields(log.Fields{"addr": cfg.DBAddr, "db": cfg.DBName})
	const errMsg = "error setting up CouchDB store"
	client, err := kivik.New("couch", cfg.DBAddr)
	if err != nil {
		return nil, pe.NewPersistenceFailed(errMsg).WithCause(err)
	}
	if cfg.RT != nil {
		if err := client.Authenticate(ctx, couchdb.SetTransport(cfg.RT)); err != nil {
			return nil, pe.NewPersistenceFailed(errMsg).WithCause(err)
		}
	}
	if cfg.DBUsername != "" {
		if err := client.Authenticate(ctx, couchdb.BasicAuth(cfg.DBUsername, cfg.DBPasswd)); err != nil {
			clog.WithError(err).Error("error authenticating with CouchDB")
			return nil, pe.NewPersistenceFailed(errMsg).WithCause(err)
		}
	}
	exists, err := client.DBExists(ctx, cfg.DBName)
	if err != nil {
		clog.WithError(err).Error("error checking database existence")
		return nil, pe.NewPersistenceFailed(errMsg).WithCause(err)
	}
	if !exists {
		clog.Info("creating database")
		if err := client.CreateDB(ctx, cfg.DBName); err != nil && kivik.StatusCode(err) != http.StatusPreconditionFailed {
			clog.WithError(err).Error("error creating database")
			return nil, pe.NewPersistenceFailed(errMsg).WithCause(err)
		}
	}
	return &CouchStore{
		DB:             client.DB(ctx, cfg.DBName),
		RequestTimeout: cfg.RequestTimeout,
		ConflictRetry:  cfg.ConflictRetry,
	}, nil
}

func (s *CouchStore) ctx() (context.Context, context.CancelFunc) {
	if s.RequestTimeout > 0 {
		return context.WithTimeout(context.Background(), s.RequestTimeout)
	}
	return context.WithCancel(context.Background())
}

func isConflict(err error) bool {
	return kivik.StatusCode(err) == http.StatusConflict
}

func isMissing(err error) bool {
	return kivik.StatusCode(err) == http.StatusNotFound
}

// onConflict retries fn as long as it fails with revision conflicts
func (s *CouchStore) onConflict(fn retry.Fn) error {
	return retry.Retry(
		fn,
		retry.WithMaxAttempts(s.ConflictRetry),
		retry.WithBaseDelay(time.Millisecond),
		retry.WithJitter(0.5),
		retry.WithRetryOn(isConflict),
	)
}

// couchErr turns errors into store errors; store errors pass through
func couchErr(err error, msg string) *pe.Err {
	if err == nil {
		return nil
	}
	if e, ok := err.(*pe.Err); ok {
		return e
	}
	return pe.NewPersistenceFailed(msg).WithCause(err)
}

func (s *CouchStore) getPin(ctx context.Context, pinID string) (*pinDoc, error) {
	d := &pinDoc{}
	if err := s.DB.Get(ctx, pinDocID(pinID)).ScanDoc(d); err != nil {
		if isMissing(err) {
			return nil, pinNotFound(pinID)
		}
		return nil, err
	}
	return d, nil
}

func (s *CouchStore) getPhoto(ctx context.Context, photoID string) (*photoDoc, error) {
	d := &photoDoc{}
	if err := s.DB.Get(ctx, photoDocID(photoID)).ScanDoc(d); err != nil {
		if isMissing(err) {
			return nil, photoNotFound(photoID)
		}
		return nil, err
	}
	return d, nil
}

func (s *CouchStore) find(ctx context.Context, selector map[string]interface{}, each func(*kivik.Rows) error) error {
	rows, err := s.DB.Find(ctx, map[string]interface{}{"selector": selector, "limit": findLimit})
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := each(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *CouchStore) findPhotos(ctx context.Context, pinID string) ([]*photoDoc, error) {
	var docs []*photoDoc
	err := s.find(ctx, map[string]interface{}{"type": docTypePhoto, "pinId": pinID}, func(rows *kivik.Rows) error {
		d := &photoDoc{}
		if err := rows.ScanDoc(d); err != nil {
			return err
		}
		docs = append(docs, d)
		return nil
	})
	return docs, err
}

// recount sets the pin's photo count to the number of its photos having an image
func (s *CouchStore) recount(ctx context.Context, pinID string) error {
	return s.onConflict(func() error {
		// read the revision before counting so that a concurrent recount makes this one conflict
		d, err := s.getPin(ctx, pinID)
		if err != nil {
			if pe.Is(err, pe.ErrCodeNotFound) {
				return nil
			}
			return err
		}
		docs, err := s.findPhotos(ctx, pinID)
		if err != nil {
			return err
		}
		n := 0
		for _, ph := range docs {
			if ph.ImageRef != "" {
				n++
			}
		}
		if d.NumberOfPhotos == n {
			return nil
		}
		d.NumberOfPhotos = n
		_, err = s.DB.Put(ctx, d.ID, d)
		return err
	})
}

func (s *CouchStore) CreatePin(p *md.Pin) *pe.Err {
	ctx, cancel := s.ctx()
	defer cancel()
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, p.ID)
	if _, err := s.DB.Put(ctx, pinDocID(p.ID), &pinDoc{ID: pinDocID(p.ID), Type: docTypePin, Pin: *p}); err != nil {
		if isConflict(err) {
			return pe.NewBadInput("pin " + p.ID + " already exists")
		}
		clog.WithError(err).Error("error saving pin to CouchDB")
		return pe.NewPersistenceFailed("error saving pin").WithCause(err)
	}
	return nil
}

func (s *CouchStore) GetPin(pinID string) (*md.Pin, *pe.Err) {
	ctx, cancel := s.ctx()
	defer cancel()
	d, err := s.getPin(ctx, pinID)
	if err != nil {
		if !pe.Is(err, pe.ErrCodeNotFound) {
			logging.WithFuncName().WithField(cst.LogFieldPinID, pinID).WithError(err).Error("error getting pin from CouchDB")
		}
		return nil, couchErr(err, "error getting pin data")
	}
	p := d.Pin
	return &p, nil
}

func (s *CouchStore) ListPins() ([]*md.Pin, *pe.Err) {
	ctx, cancel := s.ctx()
	defer cancel()
	var pins []*md.Pin
	err := s.find(ctx, map[string]interface{}{"type": docTypePin}, func(rows *kivik.Rows) error {
		d := &pinDoc{}
		if err := rows.ScanDoc(d); err != nil {
			return err
		}
		p := d.Pin
		pins = append(pins, &p)
		return nil
	})
	if err != nil {
		logging.WithFuncName().WithError(err).Error("error listing pins in CouchDB")
		return nil, pe.NewPersistenceFailed("error listing pins").WithCause(err)
	}
	sortPins(pins)
	return pins, nil
}

func (s *CouchStore) SaveState(p *md.Pin) *pe.Err {
	ctx, cancel := s.ctx()
	defer cancel()
	err := s.onConflict(func() error {
		d, err := s.getPin(ctx, p.ID)
		if err != nil {
			return err
		}
		d.IsNew, d.RadiusIndex, d.CurrentPage, d.NumberOfPages = p.IsNew, p.RadiusIndex, p.CurrentPage, p.NumberOfPages
		_, err = s.DB.Put(ctx, d.ID, d)
		return err
	})
	if perr := couchErr(err, "error saving pin state"); perr != nil {
		logging.WithFuncName().WithField(cst.LogFieldPinID, p.ID).WithError(perr).Warn("error saving pin state to CouchDB")
		return perr
	}
	return nil
}

func (s *CouchStore) deletePhotoDocs(ctx context.Context, docs []*photoDoc) error {
	for _, d := range docs {
		if _, err := s.DB.Delete(ctx, d.ID, d.Rev); err != nil && !isMissing(err) {
			return err
		}
	}
	return nil
}

func (s *CouchStore) DeletePin(pinID string) ([]*md.Photo, *pe.Err) {
	ctx, cancel := s.ctx()
	defer cancel()
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	var docs []*photoDoc
	err := s.onConflict(func() error {
		d, err := s.getPin(ctx, pinID)
		if err != nil {
			return err
		}
		// removing the pin first keeps concurrent AddPhotos from attaching photos to it
		_, err = s.DB.Delete(ctx, d.ID, d.Rev)
		return err
	})
	if perr := couchErr(err, "error deleting pin"); perr != nil {
		clog.WithError(perr).Warn("error deleting pin from CouchDB")
		return nil, perr
	}
	err = s.onConflict(func() error {
		var err error
		if docs, err = s.findPhotos(ctx, pinID); err != nil {
			return err
		}
		return s.deletePhotoDocs(ctx, docs)
	})
	if err != nil {
		clog.WithError(err).Error("error deleting photos of deleted pin from CouchDB")
		return nil, pe.NewPersistenceFailed("error deleting photos of pin").WithCause(err)
	}
	return photosOf(docs), nil
}

func photosOf(docs []*photoDoc) []*md.Photo {
	photos := make([]*md.Photo, 0, len(docs))
	for _, d := range docs {
		photos = append(photos, d.photo())
	}
	sortPhotos(photos)
	return photos
}

func (s *CouchStore) AddPhotos(pinID string, photos []*md.Photo) *pe.Err {
	ctx, cancel := s.ctx()
	defer cancel()
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	if _, err := s.getPin(ctx, pinID); err != nil {
		return couchErr(err, "error saving photos")
	}
	docs := make([]*photoDoc, 0, len(photos))
	for _, ph := range photos {
		ph.PinID = pinID
		d := &photoDoc{ID: photoDocID(ph.ID), Type: docTypePhoto, ImageRef: ph.ImageRef, Photo: *ph}
		rev, err := s.DB.Put(ctx, d.ID, d)
		if err != nil {
			clog.WithError(err).Error("error saving photo to CouchDB")
			return pe.NewPersistenceFailed("error saving photos").WithCause(err)
		}
		d.Rev = rev
		docs = append(docs, d)
	}
	// the pin may have been deleted meanwhile; do not leave orphans behind
	if _, err := s.getPin(ctx, pinID); err != nil {
		if pe.Is(err, pe.ErrCodeNotFound) {
			if err := s.deletePhotoDocs(ctx, docs); err != nil {
				clog.WithError(err).Error("error removing photos of deleted pin")
			}
		}
		return couchErr(err, "error saving photos")
	}
	return nil
}

func (s *CouchStore) GetPhoto(photoID string) (*md.Photo, *pe.Err) {
	ctx, cancel := s.ctx()
	defer cancel()
	d, err := s.getPhoto(ctx, photoID)
	if err != nil {
		if !pe.Is(err, pe.ErrCodeNotFound) {
			logging.WithFuncName().WithField(cst.LogFieldPhotoID, photoID).WithError(err).Error("error getting photo from CouchDB")
		}
		return nil, couchErr(err, "error getting photo data")
	}
	return d.photo(), nil
}

func (s *CouchStore) ListPhotos(pinID string) ([]*md.Photo, *pe.Err) {
	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := s.getPin(ctx, pinID); err != nil {
		return nil, couchErr(err, "error listing photos")
	}
	docs, err := s.findPhotos(ctx, pinID)
	if err != nil {
		logging.WithFuncName().WithField(cst.LogFieldPinID, pinID).WithError(err).Error("error listing photos in CouchDB")
		return nil, pe.NewPersistenceFailed("error listing photos").WithCause(err)
	}
	return photosOf(docs), nil
}

func (s *CouchStore) DeletePhoto(photoID string) (*md.Photo, *pe.Err) {
	ctx, cancel := s.ctx()
	defer cancel()
	clog := logging.WithFuncName().WithField(cst.LogFieldPhotoID, photoID)
	var deleted *photoDoc
	err := s.onConflict(func() error {
		d, err := s.getPhoto(ctx, photoID)
		if err != nil {
			return err
		}
		if _, err := s.DB.Delete(ctx, d.ID, d.Rev); err != nil {
			return err
		}
		deleted = d
		return nil
	})
	if perr := couchErr(err, "error deleting photo"); perr != nil {
		clog.WithError(perr).Warn("error deleting photo from CouchDB")
		return nil, perr
	}
	if deleted.ImageRef != "" {
		if err := s.recount(ctx, deleted.PinID); err != nil {
			clog.WithError(err).Error("error recounting photos of pin")
			return nil, pe.NewPersistenceFailed("error updating photo count").WithCause(err)
		}
	}
	return deleted.photo(), nil
}

func (s *CouchStore) DeletePhotos(pinID string) ([]*md.Photo, *pe.Err) {
	ctx, cancel := s.ctx()
	defer cancel()
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	if _, err := s.getPin(ctx, pinID); err != nil {
		return nil, couchErr(err, "error deleting photos")
	}
	var docs []*photoDoc
	err := s.onConflict(func() error {
		var err error
		if docs, err = s.findPhotos(ctx, pinID); err != nil {
			return err
		}
		return s.deletePhotoDocs(ctx, docs)
	})
	if err == nil {
		err = s.recount(ctx, pinID)
	}
	if err != nil {
		clog.WithError(err).Error("error deleting photos from CouchDB")
		return nil, pe.NewPersistenceFailed("error deleting photos").WithCause(err)
	}
	return photosOf(docs), nil
}

func (s *CouchStore) MarkImageReady(photoID, ref string) (bool, *pe.Err) {
	ctx, cancel := s.ctx()
	defer cancel()
	clog := logging.WithFuncName().WithFields(log.Fields{cst.LogFieldPhotoID: photoID, "ref": ref})
	marked, pinID := false, ""
	err := s.onConflict(func() error {
		d, err := s.getPhoto(ctx, photoID)
		if err != nil {
			return err
		}
		pinID = d.PinID
		if d.ImageRef != "" {
			return nil
		}
		d.ImageRef = ref
		if _, err := s.DB.Put(ctx, d.ID, d); err != nil {
			return err
		}
		marked = true
		return nil
	})
	if perr := couchErr(err, "error marking photo image ready"); perr != nil {
		clog.WithError(perr).Warn("error marking photo image ready in CouchDB")
		return false, perr
	}
	if marked {
		if err := s.recount(ctx, pinID); err != nil {
			clog.WithError(err).Error("error recounting photos of pin")
			return marked, pe.NewPersistenceFailed("error updating photo count").WithCause(err)
		}
	}
	return marked, nil
}

func (s *CouchStore) Close() *pe.Err {
	return nil
}
