package main

import (
	"github.com/julienschmidt/httprouter"
	"github.com/spf13/viper"
	mw "wuyrush.io/tourist/common/middleware"
	cst "wuyrush.io/tourist/constants"
)

// set up routes
func (s *touristServer) SetupMux() {
	r := httprouter.New()
	ms := []mw.Middleware{
		mw.BodyLimiter(viper.GetInt64(cst.EnvReqBodySizeMaxByte)),
		mw.RequestLogger(),
		mw.PanicRecoverer(),
	}
	r.POST("/pins", mw.Chain(s.HandleTaskCreatePin(), ms...))
	r.DELETE("/pins/:id", mw.Chain(s.HandleTaskDeletePin(), ms...))
	r.POST("/pins/:id/photos", mw.Chain(s.HandleTaskFindPhotos(), ms...))
	r.POST("/pins/:id/page", mw.Chain(s.HandleTaskNewPage(), ms...))
	r.DELETE("/photos/:id", mw.Chain(s.HandleTaskDeletePhoto(), ms...))
	r.PUT("/viewport", mw.Chain(s.HandleTaskSaveViewport(), ms...))
	s.Router = r
}
