// Package setup wires tourist services up with their dependencies as configured by the environment.
package setup

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis"
	"github.com/gorilla/sessions"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/tourist/album"
	"wuyrush.io/tourist/common/logging"
	rt "wuyrush.io/tourist/common/retry"
	cst "wuyrush.io/tourist/constants"
	pe "wuyrush.io/tourist/errors"
	"wuyrush.io/tourist/flickr"
	"wuyrush.io/tourist/geo"
	"wuyrush.io/tourist/places"
	st "wuyrush.io/tourist/stores"
	"wuyrush.io/tourist/stores/session"
)

const sessionName = "tourist"

// Deps holds the data layer shared by tourist services
type Deps struct {
	Redis *redis.Client
	PS    st.PinStore
	JS    st.JunkStore
	FS    st.FileStore
	// nil unless Redis is around
	Events *st.RedisEvents
}

// LogBuildInfo logs version and build context of the running binary
func LogBuildInfo(svc string) {
	log.WithFields(log.Fields{
		"version": version.Info(),
		"build":   version.BuildContext(),
	}).Infof("starting %s", svc)
}

// Stores connects to the store backend selected by the environment. The memory backend keeps everything
// within the process, and is meant for development setups running the writer alone.
func Stores(ctx context.Context) (*Deps, *pe.Err) {
	clog := logging.WithFuncName()
	d := &Deps{FS: FileStore()}
	backend := viper.GetString(cst.EnvStoreBackend)
	if backend == cst.StoreBackendMemory {
		clog.Warn("using memory store; data is lost on exit and not shared across services")
		d.PS, d.JS = st.NewMemoryStore(), st.NewMemoryJunk()
		return d, nil
	}
	rc, err := Redis()
	if err != nil {
		return nil, err
	}
	d.Redis = rc
	d.JS = &st.RedisJunk{DB: rc}
	d.Events = &st.RedisEvents{DB: rc, Channel: viper.GetString(cst.EnvEventChannel)}
	optLockRetry := viper.GetInt64(cst.EnvPinStoreOptLockRetry)
	switch backend {
	case cst.StoreBackendRedis:
		d.PS = &st.RedisStore{DB: rc, OptLockRetry: optLockRetry}
	case cst.StoreBackendCouch:
		cs, err := st.NewCouchStore(ctx, &st.CouchConfig{
			DBAddr:        viper.GetString(cst.EnvCouchAddr),
			DBName:        viper.GetString(cst.EnvCouchDBName),
			DBUsername:    viper.GetString(cst.EnvCouchUsername),
			DBPasswd:      viper.GetString(cst.EnvCouchPasswd),
			ConflictRetry: optLockRetry,
		})
		if err != nil {
			_ = rc.Close()
			return nil, err
		}
		d.PS = cs
	default:
		_ = rc.Close()
		return nil, pe.NewBadInput(fmt.Sprintf("unknown store backend %q", backend))
	}
	clog.WithField("backend", backend).Info("stores set up")
	return d, nil
}

func (d *Deps) Close() {
	clog := logging.WithFuncName()
	for _, c := range []interface{ Close() *pe.Err }{d.PS, d.JS, d.FS} {
		if err := c.Close(); err != nil {
			clog.WithError(err).Error("error closing store")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			clog.WithError(err).Error("error closing redis client")
		}
	}
}

// Redis returns a client of the configured Redis once it answers pings
func Redis() (*redis.Client, *pe.Err) {
	retryOpts := []rt.RetryOption{
		rt.WithTimeout(3 * time.Second),
		rt.WithBaseDelay(100 * time.Millisecond),
		rt.WithExp(2.0),
		rt.WithRetryOn(rt.IsDepOffline),
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%s", viper.GetString(cst.EnvRedisHost), viper.GetString(cst.EnvRedisPort)),
		Password:   viper.GetString(cst.EnvRedisPasswd),
		DB:         viper.GetInt(cst.EnvRedisDB),
		MaxRetries: 3,
	})
	// NOTE docker compose only orders container start up; Redis may not accept connections yet
	pingFn := func() error {
		_, err := redisClient.Ping().Result()
		return err
	}
	if err := rt.Retry(pingFn, retryOpts...); err != nil {
		_ = redisClient.Close()
		return nil, pe.NewServiceFailure("failed initializing Redis").WithCause(err)
	}
	return redisClient, nil
}

func FileStore() *st.LocalFileStore {
	return &st.LocalFileStore{
		Dir:      viper.GetString(cst.EnvImageDir),
		MaxBytes: viper.GetInt64(cst.EnvImageSizeMaxByte),
	}
}

// HTTPClient returns the client used to talk to remote services
func HTTPClient() *http.Client {
	return &http.Client{Timeout: viper.GetDuration(cst.EnvHTTPTimeout)}
}

func Resolver(hc *http.Client) *places.Resolver {
	ua := viper.GetString(cst.EnvUserAgent)
	return places.NewResolver(
		&places.Nominatim{BaseURL: viper.GetString(cst.EnvNominatimURL), UserAgent: ua, HC: hc},
		&places.Overpass{URL: viper.GetString(cst.EnvOverpassURL), UserAgent: ua, HC: hc},
		viper.GetFloat64(cst.EnvPOIMaxZoomSpan),
		viper.GetFloat64(cst.EnvPOISearchRadius),
		viper.GetInt(cst.EnvPlaceCacheSize),
	)
}

// Controller returns the photo acquisition controller over d. Image fetches have no client-wide timeout
// since each is bounded by the configured fetch timeout.
func Controller(d *Deps, events album.Publisher) *album.Controller {
	hc := HTTPClient()
	if viper.GetString(cst.EnvFlickrAPIKey) == "" {
		logging.WithFuncName().Warn("no flickr api key set; photo searches will fail")
	}
	return album.NewController(album.Config{
		PS: d.PS,
		FS: d.FS,
		JS: d.JS,
		Searcher: &flickr.Client{
			BaseURL: viper.GetString(cst.EnvFlickrBaseURL),
			APIKey:  viper.GetString(cst.EnvFlickrAPIKey),
			HC:      hc,
		},
		Fetcher: &flickr.Fetcher{
			HC:       &http.Client{},
			MaxBytes: viper.GetInt64(cst.EnvImageSizeMaxByte),
		},
		Resolver:        Resolver(hc),
		Events:          events,
		Ladder:          geo.DefaultLadder,
		ImageBaseURL:    viper.GetString(cst.EnvFlickrImageBaseURL),
		FetcherPoolSize: viper.GetInt(cst.EnvFetcherPoolSize),
		FetchTimeout:    viper.GetDuration(cst.EnvFetchTimeout),
	})
}

// Viewports returns the viewport store. Sessions live in Redis when it is around, and in signed cookies
// otherwise. Without a configured key cookies are signed with a random one, which invalidates saved
// viewports on restart.
func Viewports(rc *redis.Client) *st.ViewportStore {
	const maxAge = 365 * 24 * 3600
	if rc != nil {
		return &st.ViewportStore{S: session.NewRediStore(rc, maxAge), Name: sessionName}
	}
	key := []byte(viper.GetString(cst.EnvSessionKey))
	if len(key) == 0 {
		logging.WithFuncName().Warn("no session key set; using an ephemeral one")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			logging.WithFuncName().WithError(err).Fatal("error generating session key")
		}
	}
	cs := sessions.NewCookieStore(key)
	cs.Options.HttpOnly = true
	cs.Options.MaxAge = maxAge
	return &st.ViewportStore{S: cs, Name: sessionName}
}
