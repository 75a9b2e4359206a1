// Package config loads tourist configuration. Values come from environment variables, which may be
// seeded from a .env file in the working directory, and fall back to the defaults registered here.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	cst "wuyrush.io/tourist/constants"
)

var defaults = map[string]interface{}{
	cst.EnvVerbose:                    false,
	cst.EnvStoreBackend:               cst.StoreBackendRedis,
	cst.EnvRedisHost:                  "localhost",
	cst.EnvRedisPort:                  "6379",
	cst.EnvRedisDB:                    0,
	cst.EnvCouchAddr:                  "http://localhost:5984",
	cst.EnvCouchDBName:                "tourist",
	cst.EnvImageDir:                   "/tmp/tourist/images",
	cst.EnvImageSizeMaxByte:           8 << 20,
	cst.EnvEventChannel:               "tourist-events",
	cst.EnvPinStoreOptLockRetry:       8,
	cst.EnvFlickrBaseURL:              "https://www.flickr.com/services/rest/",
	cst.EnvFlickrImageBaseURL:         "https://live.staticflickr.com",
	cst.EnvNominatimURL:               "https://nominatim.openstreetmap.org",
	cst.EnvOverpassURL:                "https://overpass-api.de/api/interpreter",
	cst.EnvUserAgent:                  "tourist/1.0",
	cst.EnvHTTPTimeout:                10 * time.Second,
	cst.EnvPOIMaxZoomSpan:             0.065,
	cst.EnvPOISearchRadius:            75.0,
	cst.EnvPlaceCacheSize:             1024,
	cst.EnvFetcherPoolSize:            16,
	cst.EnvFetchTimeout:               30 * time.Second,
	cst.EnvThumbnailSizeMax:           1024,
	cst.EnvAppHost:                    "",
	cst.EnvAppPort:                    "8080",
	cst.EnvReaderHost:                 "",
	cst.EnvReaderPort:                 "8081",
	cst.EnvReqBodySizeMaxByte:         1 << 20,
	cst.EnvDeleterLocalCacheSize:      4096,
	cst.EnvDeleterSweepFreq:           time.Minute,
	cst.EnvDeleterMaxSweepLoad:        256,
	cst.EnvDeleterExecutorPoolSize:    8,
	cst.EnvDeleterWIPCacheEntryExpiry: 10 * time.Minute,
}

// Load seeds the environment from .env, if any, and registers defaults. Variables already set in
// the environment win over the .env file.
func Load() {
	// a missing .env file is fine; the environment alone configures the service
	_ = godotenv.Load()
	viper.AutomaticEnv()
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
}
