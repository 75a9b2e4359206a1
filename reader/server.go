package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/tourist/album"
	"wuyrush.io/tourist/common/config"
	"wuyrush.io/tourist/common/logging"
	"wuyrush.io/tourist/common/setup"
	cst "wuyrush.io/tourist/constants"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
	st "wuyrush.io/tourist/stores"
)

const defaultThumbnailSize = 256

// ImageLoader returns image bytes of photos, fetching those not cached yet
type ImageLoader interface {
	LoadImage(ctx context.Context, photoID string) ([]byte, *pe.Err)
}

// EventSource streams pin and photo events published from now on
type EventSource interface {
	Subscribe() (<-chan md.Event, func())
}

// reader handles read traffic of tourist. Multiple readers form the service component to handle the
// application's read operations
type reader struct {
	PS     st.PinStore
	Images ImageLoader
	VS     *st.ViewportStore
	// nil if events are not shared across services
	Events           EventSource
	ThumbnailSizeMax int
	Router           *gin.Engine
}

func main() {
	if err := serve(); err != nil {
		log.WithError(err).Fatal("error running tourist reader")
	}
}

func serve() error {
	config.Load()
	logging.SetupLog("TouristReader")
	setup.LogBuildInfo("tourist reader")
	deps, err := setup.Stores(context.Background())
	if err != nil {
		return err
	}
	defer deps.Close()
	r := &reader{
		PS:               deps.PS,
		VS:               setup.Viewports(deps.Redis),
		ThumbnailSizeMax: viper.GetInt(cst.EnvThumbnailSizeMax),
	}
	// images fetched lazily by readers are announced like those fetched by the writer
	var pub album.Publisher
	if deps.Events != nil {
		pub = deps.Events
		r.Events = deps.Events
	}
	ctl := setup.Controller(deps, pub)
	defer ctl.Close()
	r.Images = ctl
	if !viper.GetBool(cst.EnvVerbose) {
		gin.SetMode(gin.ReleaseMode)
	}
	r.SetupRoutes()

	host, port := viper.GetString(cst.EnvReaderHost), viper.GetString(cst.EnvReaderPort)
	log.WithFields(log.Fields{
		"host": host,
		"port": port,
	}).Info("tourist reader is starting up")
	hs := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		Handler:     r.Router,
		ReadTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- hs.ListenAndServe()
	}()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)
	select {
	case err := <-errs:
		return err
	case <-sigChan:
		log.Info("got termination signal. Stopping")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(ctx)
}

func (r *reader) SetupRoutes() {
	rt := gin.New()
	rt.Use(gin.Recovery(), requestLogger())

	rt.GET("/pins", r.HandleTaskListPins)
	rt.GET("/pins/:id", r.HandleTaskGetPin)
	rt.GET("/pins/:id/photos", r.HandleTaskGetAlbum)
	rt.GET("/photos/:id/image", r.HandleTaskGetImage)
	rt.GET("/photos/:id/thumbnail", r.HandleTaskGetThumbnail)
	rt.GET("/viewport", r.HandleTaskGetViewport)
	rt.GET("/events", r.HandleTaskStreamEvents)
	r.Router = rt
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"status":        c.Writer.Status(),
			"latencyMillis": time.Since(start).Milliseconds(),
		}).Debug("served request")
	}
}

func (r *reader) HandleTaskListPins(c *gin.Context) {
	pins, err := r.PS.ListPins()
	if err != nil {
		respErr(c, err)
		return
	}
	c.JSON(http.StatusOK, pins)
}

func (r *reader) HandleTaskGetPin(c *gin.Context) {
	pinID, ok := validID(c)
	if !ok {
		return
	}
	p, err := r.PS.GetPin(pinID)
	if err != nil {
		respErr(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// HandleTaskGetAlbum responds with the pin and its photos, nearest first
func (r *reader) HandleTaskGetAlbum(c *gin.Context) {
	pinID, ok := validID(c)
	if !ok {
		return
	}
	p, err := r.PS.GetPin(pinID)
	if err != nil {
		respErr(c, err)
		return
	}
	photos, err := r.PS.ListPhotos(pinID)
	if err != nil {
		respErr(c, err)
		return
	}
	views := make([]md.PhotoView, 0, len(photos))
	for _, ph := range photos {
		views = append(views, md.NewPhotoView(ph))
	}
	c.JSON(http.StatusOK, &md.AlbumView{Title: album.Title(p), Pin: p, Photos: views})
}

func (r *reader) HandleTaskGetImage(c *gin.Context) {
	photoID, ok := validID(c)
	if !ok {
		return
	}
	b, err := r.Images.LoadImage(c.Request.Context(), photoID)
	if err != nil {
		respErr(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(b), b)
}

func (r *reader) HandleTaskGetThumbnail(c *gin.Context) {
	photoID, ok := validID(c)
	if !ok {
		return
	}
	size := defaultThumbnailSize
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > r.ThumbnailSizeMax {
			respErr(c, pe.NewBadInput(fmt.Sprintf("thumbnail size must be within (0, %d]", r.ThumbnailSizeMax)))
			return
		}
		size = n
	}
	b, err := r.Images.LoadImage(c.Request.Context(), photoID)
	if err != nil {
		respErr(c, err)
		return
	}
	thumb, err := album.Thumbnail(b, size)
	if err != nil {
		respErr(c, err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", thumb)
}

func (r *reader) HandleTaskGetViewport(c *gin.Context) {
	v, err := r.VS.Get(c.Request)
	if err != nil {
		respErr(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// HandleTaskStreamEvents relays pin and photo events as server-sent events until the client goes away
func (r *reader) HandleTaskStreamEvents(c *gin.Context) {
	if r.Events == nil {
		respErr(c, pe.NewNotImplemented())
		return
	}
	events, cancel := r.Events.Subscribe()
	defer cancel()
	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Kind), e)
			return true
		case <-done:
			return false
		}
	})
}

func validID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := ksuid.Parse(id); err != nil {
		respErr(c, pe.NewNotFound("not found").WithCause(err))
		return "", false
	}
	return id, true
}

func respErr(c *gin.Context, err *pe.Err) {
	clog := logging.WithFuncName().WithField("path", c.Request.URL.Path)
	code := err.StatusCode()
	if code >= http.StatusInternalServerError {
		clog.WithError(err).Error(err.Msg())
	} else {
		clog.WithError(err).Debug(err.Msg())
	}
	c.JSON(code, gin.H{"error": err.Msg()})
}
