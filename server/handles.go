package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
	"wuyrush.io/tourist/common/logging"
	cst "wuyrush.io/tourist/constants"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

// PhotoAlbum vends the pin and photo operations the server exposes
type PhotoAlbum interface {
	CreatePin(ctx context.Context, at md.Coordinate, zoomSpan float64) (*md.Pin, *pe.Err)
	FindPhotos(ctx context.Context, pinID string) (*md.Pin, *pe.Err)
	NewPage(ctx context.Context, pinID string) (*md.Pin, *pe.Err)
	DeletePin(pinID string) *pe.Err
	DeletePhoto(photoID string) *pe.Err
	Album(pinID string) (*md.AlbumView, *pe.Err)
}

type createPinRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	// degrees of longitude the client map spans
	ZoomSpan float64 `json:"zoomSpan"`
}

func (s *touristServer) HandleTaskCreatePin() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodPost)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req createPinRequest
		if err := decodeBody(r, &req); err != nil {
			respErr(w, err, clog)
			return
		}
		if req.Latitude == nil || req.Longitude == nil {
			respErr(w, pe.NewBadInput("latitude and longitude are required"), clog)
			return
		}
		p, err := s.Album.CreatePin(r.Context(), md.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}, req.ZoomSpan)
		if err != nil {
			respErr(w, err, clog)
			return
		}
		clog.WithField(cst.LogFieldPinID, p.ID).Info("pin created")
		respJSON(w, http.StatusCreated, p, clog)
	}
}

func (s *touristServer) HandleTaskDeletePin() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodDelete)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		pinID, ok := validID(w, ps, clog)
		if !ok {
			return
		}
		if err := s.Album.DeletePin(pinID); err != nil {
			respErr(w, err, clog.WithField(cst.LogFieldPinID, pinID))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleTaskFindPhotos acquires the next batch of photos for a pin and responds with its album
func (s *touristServer) HandleTaskFindPhotos() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodPost)
	return s.handleAcquire(clog, s.Album.FindPhotos)
}

// HandleTaskNewPage replaces the photos of a pin with a fresh batch and responds with its album
func (s *touristServer) HandleTaskNewPage() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodPost)
	return s.handleAcquire(clog, s.Album.NewPage)
}

func (s *touristServer) handleAcquire(clog *logrus.Entry, acquire func(context.Context, string) (*md.Pin, *pe.Err)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		pinID, ok := validID(w, ps, clog)
		if !ok {
			return
		}
		plog := clog.WithField(cst.LogFieldPinID, pinID)
		if _, err := acquire(r.Context(), pinID); err != nil {
			respErr(w, err, plog)
			return
		}
		av, err := s.Album.Album(pinID)
		if err != nil {
			respErr(w, err, plog)
			return
		}
		respJSON(w, http.StatusOK, av, plog)
	}
}

func (s *touristServer) HandleTaskDeletePhoto() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodDelete)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		photoID, ok := validID(w, ps, clog)
		if !ok {
			return
		}
		if err := s.Album.DeletePhoto(photoID); err != nil {
			respErr(w, err, clog.WithField(cst.LogFieldPhotoID, photoID))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *touristServer) HandleTaskSaveViewport() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodPut)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var v md.Viewport
		if err := decodeBody(r, &v); err != nil {
			respErr(w, err, clog)
			return
		}
		if err := s.VS.Save(w, r, v); err != nil {
			respErr(w, err, clog)
			return
		}
		respJSON(w, http.StatusOK, v, clog)
	}
}

// validID reads the id path parameter, responding with 404 if it is no ksuid
func validID(w http.ResponseWriter, ps httprouter.Params, clog *logrus.Entry) (string, bool) {
	id := ps.ByName("id")
	if _, err := ksuid.Parse(id); err != nil {
		clog.WithError(err).WithField("id", id).Debug("got invalid id")
		http.Error(w, "not found", http.StatusNotFound)
		return "", false
	}
	return id, true
}

func decodeBody(r *http.Request, v interface{}) *pe.Err {
	if r.Body == nil {
		return pe.NewBadInput("request body required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if strings.Contains(err.Error(), cst.ErrMsgRequestBodyTooLarge) {
			return pe.NewOversized().WithCause(err)
		}
		return pe.NewBadInput("error parsing request body").WithCause(err)
	}
	return nil
}

func respJSON(w http.ResponseWriter, code int, v interface{}, clog *logrus.Entry) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		clog.WithError(err).Error("error writing response")
	}
}

func respErr(w http.ResponseWriter, err *pe.Err, clog *logrus.Entry) {
	code := err.StatusCode()
	if code >= http.StatusInternalServerError {
		clog.WithError(err).Error(err.Msg())
	} else {
		clog.WithError(err).Debug(err.Msg())
	}
	respJSON(w, code, map[string]string{"error": err.Msg()}, clog)
}
