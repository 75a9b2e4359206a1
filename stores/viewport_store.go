package stores

import (
	"net/http"

	"github.com/gorilla/sessions"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

const (
	keyLongitude = "longitude"
	keyLatitude  = "latitude"
	keyWidth     = "width"
	keyHeight    = "height"
)

// ViewportStore keeps the last map viewport of a client in a session, as four numbers
type ViewportStore struct {
	S    sessions.Store
	Name string
}

// Get returns the viewport saved for the client sending r, or the world viewport if there is none
func (s *ViewportStore) Get(r *http.Request) (md.Viewport, *pe.Err) {
	sess, err := s.S.Get(r, s.Name)
	if err != nil {
		// sessions signed with a rotated key fail to decode; treat them as absent
		return md.WorldViewport, nil
	}
	vals := [4]float64{}
	for i, k := range []string{keyLongitude, keyLatitude, keyWidth, keyHeight} {
		v, ok := sess.Values[k].(float64)
		if !ok {
			return md.WorldViewport, nil
		}
		vals[i] = v
	}
	return md.Viewport{Longitude: vals[0], Latitude: vals[1], Width: vals[2], Height: vals[3]}, nil
}

func (s *ViewportStore) Save(w http.ResponseWriter, r *http.Request, v md.Viewport) *pe.Err {
	if !v.Valid() {
		return pe.NewBadInput("invalid viewport")
	}
	// a session which failed to decode is replaced by a fresh one
	sess, _ := s.S.Get(r, s.Name)
	if sess == nil {
		sess = sessions.NewSession(s.S, s.Name)
	}
	sess.Values[keyLongitude] = v.Longitude
	sess.Values[keyLatitude] = v.Latitude
	sess.Values[keyWidth] = v.Width
	sess.Values[keyHeight] = v.Height
	if err := sess.Save(r, w); err != nil {
		return pe.NewServiceFailure("error saving viewport").WithCause(err)
	}
	return nil
}
