package stores

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/tourist/common/logging"
	"wuyrush.io/tourist/common/retry"
	cst "wuyrush.io/tourist/constants"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

// RedisStore is a PinStore implementation driven by Redis. Pin level mutations run in optimistic
// transactions (WATCH/MULTI/EXEC) which are retried up to OptLockRetry times on conflict. Single photo
// mutations, which contend on the pin's photo count, run as Lua scripts instead.
type RedisStore struct {
	DB           *redis.Client
	OptLockRetry int64
}

const (
	fieldNameID             = "id"
	fieldNameLatitude       = "latitude"
	fieldNameLongitude      = "longitude"
	fieldNameTitle          = "title"
	fieldNameSubtitle       = "subtitle"
	fieldNameCreationTime   = "creationTime"
	fieldNameIsNew          = "isNew"
	fieldNameRadiusIndex    = "radiusIndex"
	fieldNameCurrentPage    = "currentPage"
	fieldNameNumberOfPages  = "numberOfPages"
	fieldNameNumberOfPhotos = "numberOfPhotos"
	fieldNamePinID          = "pinId"
	fieldNameRemoteID       = "remoteId"
	fieldNameURL            = "url"
	fieldNameDistance       = "distance"
	fieldNameImageRef       = "imageRef"

	// redis key of the sorted set of pin ids whose score is pin creation time
	keyPins = "pins"
	// templates of redis keys holding pin and photo hashes
	keyTmplPin   = "pin:%s"
	keyTmplPhoto = "photo:%s"
	// template of redis key of the sorted set of a pin's photo ids whose score is photo distance
	keyTmplAlbum = "pin:%s:photos"
)

func pinKey(pinID string) string {
	return fmt.Sprintf(keyTmplPin, pinID)
}

func photoKey(photoID string) string {
	return fmt.Sprintf(keyTmplPhoto, photoID)
}

func albumKey(pinID string) string {
	return fmt.Sprintf(keyTmplAlbum, pinID)
}

// results of scriptMarkImageReady
const (
	markedNoPhoto = -1
	markedAlready = 0
	markedImage   = 1
)

// scriptMarkImageReady sets the image ref of photo KEYS[1] unless it has one already, and counts the image
// in its pin when the pin still exists. ARGV: pin key template, image ref.
var scriptMarkImageReady = redis.NewScript(fmt.Sprintf(`
local pinId = redis.call('HGET', KEYS[1], '%[1]s')
if not pinId then
	return %[4]d
end
local cur = redis.call('HGET', KEYS[1], '%[2]s')
if cur and cur ~= '' then
	return %[5]d
end
redis.call('HSET', KEYS[1], '%[2]s', ARGV[2])
local pin = string.format(ARGV[1], pinId)
if redis.call('EXISTS', pin) == 1 then
	redis.call('HINCRBY', pin, '%[3]s', 1)
end
return %[6]d
`, fieldNamePinID, fieldNameImageRef, fieldNameNumberOfPhotos, markedNoPhoto, markedAlready, markedImage))

// scriptDeletePhoto deletes photo KEYS[1] along with its album entry, uncounts its image from its pin, and
// returns the deleted hash; an empty reply means no such photo. ARGV: pin key template, album key template,
// photo id.
var scriptDeletePhoto = redis.NewScript(fmt.Sprintf(`
local ph = redis.call('HGETALL', KEYS[1])
if #ph == 0 then
	return ph
end
local pinId = redis.call('HGET', KEYS[1], '%[1]s')
local ref = redis.call('HGET', KEYS[1], '%[2]s')
redis.call('DEL', KEYS[1])
if pinId then
	redis.call('ZREM', string.format(ARGV[2], pinId), ARGV[3])
	local pin = string.format(ARGV[1], pinId)
	if ref and ref ~= '' and redis.call('EXISTS', pin) == 1 then
		redis.call('HINCRBY', pin, '%[3]s', -1)
	end
end
return ph
`, fieldNamePinID, fieldNameImageRef, fieldNameNumberOfPhotos))

// tx runs fn in an optimistic transaction watching keys, retrying on conflicts
func (s *RedisStore) tx(fn func(*redis.Tx) error, keys ...string) error {
	return retry.Retry(
		func() error {
			return s.DB.Watch(fn, keys...)
		},
		retry.WithMaxAttempts(s.OptLockRetry),
		retry.WithBaseDelay(time.Millisecond),
		retry.WithJitter(0.5),
		retry.WithRetryOn(func(err error) bool { return err == redis.TxFailedErr }),
	)
}

// txErr turns errors out of tx into store errors; errors raised by store logic inside the transaction pass through
func txErr(err error, msg string) *pe.Err {
	if err == nil {
		return nil
	}
	if e, ok := err.(*pe.Err); ok {
		return e
	}
	return pe.NewPersistenceFailed(msg).WithCause(err)
}

func pinFields(p *md.Pin) map[string]interface{} {
	return map[string]interface{}{
		fieldNameID:             p.ID,
		fieldNameLatitude:       p.Latitude,
		fieldNameLongitude:      p.Longitude,
		fieldNameTitle:          p.Title,
		fieldNameSubtitle:       p.Subtitle,
		fieldNameCreationTime:   p.CreationTime.UnixNano(),
		fieldNameIsNew:          p.IsNew,
		fieldNameRadiusIndex:    p.RadiusIndex,
		fieldNameCurrentPage:    p.CurrentPage,
		fieldNameNumberOfPages:  p.NumberOfPages,
		fieldNameNumberOfPhotos: p.NumberOfPhotos,
	}
}

func stateFields(p *md.Pin) map[string]interface{} {
	return map[string]interface{}{
		fieldNameIsNew:         p.IsNew,
		fieldNameRadiusIndex:   p.RadiusIndex,
		fieldNameCurrentPage:   p.CurrentPage,
		fieldNameNumberOfPages: p.NumberOfPages,
	}
}

func photoFields(ph *md.Photo) map[string]interface{} {
	return map[string]interface{}{
		fieldNameID:           ph.ID,
		fieldNamePinID:        ph.PinID,
		fieldNameRemoteID:     ph.RemoteID,
		fieldNameTitle:        ph.Title,
		fieldNameURL:          ph.URL,
		fieldNameDistance:     ph.Distance,
		fieldNameImageRef:     ph.ImageRef,
		fieldNameCreationTime: ph.CreationTime.UnixNano(),
	}
}

// fieldParser collects the first error when parsing values out of a redis hash
type fieldParser struct {
	m   map[string]string
	err error
}

func (f *fieldParser) float(name string) float64 {
	v, err := strconv.ParseFloat(f.m[name], 64)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("field %s: %w", name, err)
	}
	return v
}

func (f *fieldParser) int(name string) int {
	v, err := strconv.Atoi(f.m[name])
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("field %s: %w", name, err)
	}
	return v
}

func (f *fieldParser) bool(name string) bool {
	return f.m[name] == "1"
}

func (f *fieldParser) time(name string) time.Time {
	v, err := strconv.ParseInt(f.m[name], 10, 64)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("field %s: %w", name, err)
	}
	return time.Unix(0, v)
}

func parsePin(m map[string]string) (*md.Pin, error) {
	f := &fieldParser{m: m}
	p := &md.Pin{
		ID:             m[fieldNameID],
		Latitude:       f.float(fieldNameLatitude),
		Longitude:      f.float(fieldNameLongitude),
		Title:          m[fieldNameTitle],
		Subtitle:       m[fieldNameSubtitle],
		CreationTime:   f.time(fieldNameCreationTime),
		IsNew:          f.bool(fieldNameIsNew),
		RadiusIndex:    f.int(fieldNameRadiusIndex),
		CurrentPage:    f.int(fieldNameCurrentPage),
		NumberOfPages:  f.int(fieldNameNumberOfPages),
		NumberOfPhotos: f.int(fieldNameNumberOfPhotos),
	}
	return p, f.err
}

func parsePhoto(m map[string]string) (*md.Photo, error) {
	f := &fieldParser{m: m}
	ph := &md.Photo{
		ID:           m[fieldNameID],
		PinID:        m[fieldNamePinID],
		RemoteID:     m[fieldNameRemoteID],
		Title:        m[fieldNameTitle],
		URL:          m[fieldNameURL],
		Distance:     f.float(fieldNameDistance),
		ImageRef:     m[fieldNameImageRef],
		CreationTime: f.time(fieldNameCreationTime),
	}
	return ph, f.err
}

func (s *RedisStore) CreatePin(p *md.Pin) *pe.Err {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, p.ID)
	key := pinKey(p.ID)
	err := s.tx(func(tx *redis.Tx) error {
		n, err := tx.Exists(key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return pe.NewBadInput("pin " + p.ID + " already exists")
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.HMSet(key, pinFields(p))
			pipe.ZAdd(keyPins, redis.Z{Score: float64(p.CreationTime.UnixNano()), Member: p.ID})
			return nil
		})
		return err
	}, key)
	if perr := txErr(err, "error saving pin"); perr != nil {
		clog.WithError(perr).Error("error creating pin in redis")
		return perr
	}
	return nil
}

func (s *RedisStore) GetPin(pinID string) (*md.Pin, *pe.Err) {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	m, err := s.DB.HGetAll(pinKey(pinID)).Result()
	if err != nil {
		msg := "error getting pin data"
		clog.WithError(err).Error(msg)
		return nil, pe.NewPersistenceFailed(msg).WithCause(err)
	}
	if len(m) == 0 {
		return nil, pinNotFound(pinID)
	}
	p, err := parsePin(m)
	if err != nil {
		msg := "error unmarshalling pin data"
		clog.WithError(err).Error(msg)
		return nil, pe.NewPersistenceFailed(msg).WithCause(err)
	}
	return p, nil
}

func (s *RedisStore) ListPins() ([]*md.Pin, *pe.Err) {
	clog := logging.WithFuncName()
	const errMsg = "error listing pins"
	ids, err := s.DB.ZRange(keyPins, 0, -1).Result()
	if err != nil {
		clog.WithError(err).Error("error calling redis to list pin ids")
		return nil, pe.NewPersistenceFailed(errMsg).WithCause(err)
	}
	cmds, err := s.DB.Pipelined(func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.HGetAll(pinKey(id))
		}
		return nil
	})
	if err != nil {
		clog.WithError(err).Error("error calling redis to load pins")
		return nil, pe.NewPersistenceFailed(errMsg).WithCause(err)
	}
	pins := make([]*md.Pin, 0, len(cmds))
	for _, cmd := range cmds {
		m := cmd.(*redis.StringStringMapCmd).Val()
		// pin deleted between listing and loading
		if len(m) == 0 {
			continue
		}
		p, err := parsePin(m)
		if err != nil {
			clog.WithError(err).Error("error unmarshalling pin data")
			return nil, pe.NewPersistenceFailed(errMsg).WithCause(err)
		}
		pins = append(pins, p)
	}
	sortPins(pins)
	return pins, nil
}

func (s *RedisStore) SaveState(p *md.Pin) *pe.Err {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, p.ID)
	key := pinKey(p.ID)
	err := s.tx(func(tx *redis.Tx) error {
		n, err := tx.Exists(key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return pinNotFound(p.ID)
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.HMSet(key, stateFields(p))
			return nil
		})
		return err
	}, key)
	if perr := txErr(err, "error saving pin state"); perr != nil {
		clog.WithError(perr).Warn("error saving pin state to redis")
		return perr
	}
	return nil
}

// albumReader is satisfied by both redis.Client and redis.Tx
type albumReader interface {
	ZRange(key string, start, stop int64) *redis.StringSliceCmd
	HGetAll(key string) *redis.StringStringMapCmd
}

// loadAlbum loads all photos of a pin with cmd, which may be a client or a watching transaction
func loadAlbum(cmd albumReader, pinID string) ([]*md.Photo, error) {
	ids, err := cmd.ZRange(albumKey(pinID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	photos := make([]*md.Photo, 0, len(ids))
	for _, id := range ids {
		m, err := cmd.HGetAll(photoKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			continue
		}
		ph, err := parsePhoto(m)
		if err != nil {
			return nil, err
		}
		photos = append(photos, ph)
	}
	return photos, nil
}

func (s *RedisStore) DeletePin(pinID string) ([]*md.Photo, *pe.Err) {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	var deleted []*md.Photo
	key, akey := pinKey(pinID), albumKey(pinID)
	err := s.tx(func(tx *redis.Tx) error {
		n, err := tx.Exists(key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return pinNotFound(pinID)
		}
		if deleted, err = loadAlbum(tx, pinID); err != nil {
			return err
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			for _, ph := range deleted {
				pipe.Del(photoKey(ph.ID))
			}
			pipe.Del(key, akey)
			pipe.ZRem(keyPins, pinID)
			return nil
		})
		return err
	}, key, akey)
	if perr := txErr(err, "error deleting pin"); perr != nil {
		clog.WithError(perr).Warn("error deleting pin from redis")
		return nil, perr
	}
	sortPhotos(deleted)
	return deleted, nil
}

func (s *RedisStore) AddPhotos(pinID string, photos []*md.Photo) *pe.Err {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	key, akey := pinKey(pinID), albumKey(pinID)
	err := s.tx(func(tx *redis.Tx) error {
		n, err := tx.Exists(key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return pinNotFound(pinID)
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			for _, ph := range photos {
				ph.PinID = pinID
				pipe.HMSet(photoKey(ph.ID), photoFields(ph))
				pipe.ZAdd(akey, redis.Z{Score: ph.Distance, Member: ph.ID})
			}
			return nil
		})
		return err
	}, key)
	if perr := txErr(err, "error saving photos"); perr != nil {
		clog.WithError(perr).Warn("error adding photos to redis")
		return perr
	}
	return nil
}

func (s *RedisStore) GetPhoto(photoID string) (*md.Photo, *pe.Err) {
	clog := logging.WithFuncName().WithField(cst.LogFieldPhotoID, photoID)
	m, err := s.DB.HGetAll(photoKey(photoID)).Result()
	if err != nil {
		msg := "error getting photo data"
		clog.WithError(err).Error(msg)
		return nil, pe.NewPersistenceFailed(msg).WithCause(err)
	}
	if len(m) == 0 {
		return nil, photoNotFound(photoID)
	}
	ph, err := parsePhoto(m)
	if err != nil {
		msg := "error unmarshalling photo data"
		clog.WithError(err).Error(msg)
		return nil, pe.NewPersistenceFailed(msg).WithCause(err)
	}
	return ph, nil
}

func (s *RedisStore) ListPhotos(pinID string) ([]*md.Photo, *pe.Err) {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	n, err := s.DB.Exists(pinKey(pinID)).Result()
	if err != nil {
		clog.WithError(err).Error("error checking pin existence")
		return nil, pe.NewPersistenceFailed("error listing photos").WithCause(err)
	}
	if n == 0 {
		return nil, pinNotFound(pinID)
	}
	photos, err := loadAlbum(s.DB, pinID)
	if err != nil {
		clog.WithError(err).Error("error loading photos from redis")
		return nil, pe.NewPersistenceFailed("error listing photos").WithCause(err)
	}
	sortPhotos(photos)
	return photos, nil
}

func (s *RedisStore) DeletePhoto(photoID string) (*md.Photo, *pe.Err) {
	clog := logging.WithFuncName().WithField(cst.LogFieldPhotoID, photoID)
	res, err := scriptDeletePhoto.Run(s.DB, []string{photoKey(photoID)}, keyTmplPin, keyTmplAlbum, photoID).Result()
	if err != nil {
		clog.WithError(err).Warn("error deleting photo from redis")
		return nil, pe.NewPersistenceFailed("error deleting photo").WithCause(err)
	}
	vals, _ := res.([]interface{})
	if len(vals) == 0 {
		return nil, photoNotFound(photoID)
	}
	m := make(map[string]string, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		k, _ := vals[i].(string)
		v, _ := vals[i+1].(string)
		m[k] = v
	}
	deleted, err := parsePhoto(m)
	if err != nil {
		msg := "error unmarshalling photo data"
		clog.WithError(err).Error(msg)
		return nil, pe.NewPersistenceFailed(msg).WithCause(err)
	}
	return deleted, nil
}

func (s *RedisStore) DeletePhotos(pinID string) ([]*md.Photo, *pe.Err) {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	var deleted []*md.Photo
	key, akey := pinKey(pinID), albumKey(pinID)
	err := s.tx(func(tx *redis.Tx) error {
		n, err := tx.Exists(key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return pinNotFound(pinID)
		}
		if deleted, err = loadAlbum(tx, pinID); err != nil {
			return err
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			for _, ph := range deleted {
				pipe.Del(photoKey(ph.ID))
			}
			pipe.Del(akey)
			pipe.HSet(key, fieldNameNumberOfPhotos, 0)
			return nil
		})
		return err
	}, key, akey)
	if perr := txErr(err, "error deleting photos"); perr != nil {
		clog.WithError(perr).Warn("error deleting photos from redis")
		return nil, perr
	}
	sortPhotos(deleted)
	return deleted, nil
}

func (s *RedisStore) MarkImageReady(photoID, ref string) (bool, *pe.Err) {
	clog := logging.WithFuncName().WithFields(log.Fields{cst.LogFieldPhotoID: photoID, "ref": ref})
	res, err := scriptMarkImageReady.Run(s.DB, []string{photoKey(photoID)}, keyTmplPin, ref).Result()
	if err != nil {
		clog.WithError(err).Warn("error marking photo image ready in redis")
		return false, pe.NewPersistenceFailed("error marking photo image ready").WithCause(err)
	}
	switch n, _ := res.(int64); n {
	case markedImage:
		return true, nil
	case markedNoPhoto:
		// photo deleted while its image was being fetched
		return false, photoNotFound(photoID)
	default:
		return false, nil
	}
}

func (s *RedisStore) Close() *pe.Err {
	if err := s.DB.Close(); err != nil {
		return pe.NewPersistenceFailed("failed close Redis client").WithCause(err)
	}
	return nil
}
