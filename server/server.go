package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/tourist/album"
	"wuyrush.io/tourist/common/config"
	"wuyrush.io/tourist/common/logging"
	"wuyrush.io/tourist/common/setup"
	cst "wuyrush.io/tourist/constants"
	md "wuyrush.io/tourist/models"
	st "wuyrush.io/tourist/stores"
)

// touristServer handles write traffic of tourist: pins, their photo albums and the saved viewport
type touristServer struct {
	Album  PhotoAlbum
	VS     *st.ViewportStore
	Router *httprouter.Router
}

func (s *touristServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func main() {
	if err := serve(); err != nil {
		log.WithError(err).Fatal("error running tourist server")
	}
}

// start up application server and serve incoming requests
func serve() error {
	config.Load()
	logging.SetupLog("TouristServer")
	setup.LogBuildInfo("tourist server")
	// NOTE docker compose's depends_on feature only guarantee the startup order of *service containers*,
	// instead of the services themselves - It is us who define when the services are ready
	deps, err := setup.Stores(context.Background())
	if err != nil {
		return err
	}
	defer deps.Close()

	// events reach in-process listeners first, then readers through redis
	broker := album.NewBroker()
	if deps.Events != nil {
		broker.Subscribe(func(e md.Event) {
			_ = deps.Events.Publish(e)
		})
	}
	ctl := setup.Controller(deps, broker)
	defer ctl.Close()

	svr := &touristServer{Album: ctl, VS: setup.Viewports(deps.Redis)}
	svr.SetupMux()

	host, port := viper.GetString(cst.EnvAppHost), viper.GetString(cst.EnvAppPort)
	log.WithFields(log.Fields{
		"host": host,
		"port": port,
	}).Infof("tourist server is starting up")
	hs := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Handler:      svr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
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
