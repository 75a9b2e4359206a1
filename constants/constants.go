// Package constants vends constants used in various components of tourist service, e.g., env var names
package constants

const (
	// -------------- env vars --------------
	// common
	EnvVerbose = "TOURIST_VERBOSE"
	// stores
	EnvStoreBackend         = "TOURIST_STORE_BACKEND"
	EnvRedisHost            = "REDIS_HOST"
	EnvRedisPort            = "REDIS_PORT"
	EnvRedisPasswd          = "REDIS_PASSWD"
	EnvRedisDB              = "REDIS_DB"
	EnvCouchAddr            = "COUCH_ADDR"
	EnvCouchDBName          = "COUCH_DB_NAME"
	EnvCouchUsername        = "COUCH_USERNAME"
	EnvCouchPasswd          = "COUCH_PASSWD"
	EnvImageDir             = "TOURIST_IMAGE_DIR"
	EnvImageSizeMaxByte     = "TOURIST_IMAGE_SIZE_MAX_BYTE"
	EnvEventChannel         = "TOURIST_EVENT_CHANNEL"
	EnvSessionKey           = "TOURIST_SESSION_KEY"
	EnvPinStoreOptLockRetry = "TOURIST_STORE_OPT_LOCK_RETRY"
	// remote services
	EnvFlickrAPIKey       = "FLICKR_API_KEY"
	EnvFlickrBaseURL      = "FLICKR_BASE_URL"
	EnvFlickrImageBaseURL = "FLICKR_IMAGE_BASE_URL"
	EnvNominatimURL       = "NOMINATIM_URL"
	EnvOverpassURL        = "OVERPASS_URL"
	EnvUserAgent          = "TOURIST_USER_AGENT"
	EnvHTTPTimeout        = "TOURIST_HTTP_TIMEOUT"
	// album
	EnvPOIMaxZoomSpan   = "TOURIST_POI_MAX_ZOOM_SPAN"
	EnvPOISearchRadius  = "TOURIST_POI_SEARCH_RADIUS"
	EnvPlaceCacheSize   = "TOURIST_PLACE_CACHE_SIZE"
	EnvFetcherPoolSize  = "TOURIST_FETCHER_POOL_SIZE"
	EnvFetchTimeout     = "TOURIST_FETCH_TIMEOUT"
	EnvThumbnailSizeMax = "TOURIST_THUMBNAIL_SIZE_MAX"
	// server
	EnvAppHost            = "TOURIST_HOST"
	EnvAppPort            = "TOURIST_PORT"
	EnvReaderHost         = "TOURIST_READER_HOST"
	EnvReaderPort         = "TOURIST_READER_PORT"
	EnvReqBodySizeMaxByte = "TOURIST_REQ_BODY_SIZE_MAX_BYTE"
	// deleter
	EnvDeleterLocalCacheSize      = "TOURIST_DELETER_LOCAL_CACHE_SIZE"
	EnvDeleterSweepFreq           = "TOURIST_DELETER_SWEEP_FREQ"
	EnvDeleterMaxSweepLoad        = "TOURIST_DELETER_MAX_SWEEP_LOAD"
	EnvDeleterExecutorPoolSize    = "TOURIST_DELETER_EXEC_POOL_SIZE"
	EnvDeleterWIPCacheEntryExpiry = "TOURIST_DELETER_WIP_CACHE_ENTRY_EXPIRY"

	// -------------- store backends --------------
	StoreBackendRedis  = "redis"
	StoreBackendCouch  = "couch"
	StoreBackendMemory = "memory"

	// -------------- error messages --------------
	ErrMsgRequestBodyTooLarge = "request body too large"

	// -------------- log fields --------------
	LogFieldFuncName = "funcName"
	LogFieldPinID    = "pinID"
	LogFieldPhotoID  = "photoID"
)
