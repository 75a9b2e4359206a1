package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/segmentio/ksuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	cst "wuyrush.io/tourist/constants"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
	st "wuyrush.io/tourist/stores"
)

type mockAlbum struct {
	mock.Mock
}

func errArg(args mock.Arguments, i int) *pe.Err {
	if err := args.Get(i); err != nil {
		return err.(*pe.Err)
	}
	return nil
}

func (m *mockAlbum) CreatePin(ctx context.Context, at md.Coordinate, zoomSpan float64) (*md.Pin, *pe.Err) {
	args := m.Called(ctx, at, zoomSpan)
	p, _ := args.Get(0).(*md.Pin)
	return p, errArg(args, 1)
}

func (m *mockAlbum) FindPhotos(ctx context.Context, pinID string) (*md.Pin, *pe.Err) {
	args := m.Called(ctx, pinID)
	p, _ := args.Get(0).(*md.Pin)
	return p, errArg(args, 1)
}

func (m *mockAlbum) NewPage(ctx context.Context, pinID string) (*md.Pin, *pe.Err) {
	args := m.Called(ctx, pinID)
	p, _ := args.Get(0).(*md.Pin)
	return p, errArg(args, 1)
}

func (m *mockAlbum) DeletePin(pinID string) *pe.Err {
	return errArg(m.Called(pinID), 0)
}

func (m *mockAlbum) DeletePhoto(photoID string) *pe.Err {
	return errArg(m.Called(photoID), 0)
}

func (m *mockAlbum) Album(pinID string) (*md.AlbumView, *pe.Err) {
	args := m.Called(pinID)
	av, _ := args.Get(0).(*md.AlbumView)
	return av, errArg(args, 1)
}

func newTestServer(t *testing.T) (*touristServer, *mockAlbum) {
	viper.Set(cst.EnvReqBodySizeMaxByte, 256)
	t.Cleanup(func() { viper.Set(cst.EnvReqBodySizeMaxByte, nil) })
	a := &mockAlbum{}
	s := &touristServer{
		Album: a,
		VS:    &st.ViewportStore{S: sessions.NewCookieStore([]byte("fake-session-key")), Name: "tourist"},
	}
	s.SetupMux()
	return s, a
}

func do(s *touristServer, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	wrec := httptest.NewRecorder()
	s.ServeHTTP(wrec, req)
	return wrec
}

func TestHandleTaskCreatePin(t *testing.T) {
	at := md.Coordinate{Latitude: 39.78, Longitude: -89.65}
	pin := md.NewPin(ksuid.New().String(), at, md.Place{Title: "Springfield"}, time.Time{})
	tcs := []struct {
		name         string
		body         string
		setup        func(a *mockAlbum)
		expectedCode int
	}{
		{
			name: "HappyCase",
			body: `{"latitude": 39.78, "longitude": -89.65, "zoomSpan": 0.5}`,
			setup: func(a *mockAlbum) {
				a.On("CreatePin", mock.Anything, at, 0.5).Return(pin, nil)
			},
			expectedCode: http.StatusCreated,
		},
		{
			name:         "MissingCoordinate",
			body:         `{"latitude": 39.78}`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "MalformedBody",
			body:         `{"latitude":`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "OversizedBody",
			body:         `{"latitude": 39.78, "longitude": -89.65, "pad": "` + strings.Repeat("x", 512) + `"}`,
			expectedCode: http.StatusRequestEntityTooLarge,
		},
		{
			name: "CoordinateOutOfRange",
			body: `{"latitude": 91, "longitude": 0}`,
			setup: func(a *mockAlbum) {
				a.On("CreatePin", mock.Anything, md.Coordinate{Latitude: 91}, 0.0).
					Return(nil, pe.NewBadInput("coordinate out of range"))
			},
			expectedCode: http.StatusBadRequest,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			s, a := newTestServer(t)
			if c.setup != nil {
				c.setup(a)
			}
			wrec := do(s, http.MethodPost, "/pins", c.body)
			assert.Equal(t, c.expectedCode, wrec.Code, "unexpected response status code")
			a.AssertExpectations(t)
		})
	}
}

func TestHandleTaskCreatePin_ResponseBody(t *testing.T) {
	s, a := newTestServer(t)
	at := md.Coordinate{Latitude: 39.78, Longitude: -89.65}
	pin := md.NewPin(ksuid.New().String(), at, md.Place{Title: "Springfield", Subtitle: "in Illinois, USA"}, time.Time{})
	a.On("CreatePin", mock.Anything, at, 0.0).Return(pin, nil)

	wrec := do(s, http.MethodPost, "/pins", `{"latitude": 39.78, "longitude": -89.65}`)
	require.Equal(t, http.StatusCreated, wrec.Code)
	assert.Equal(t, "application/json", wrec.Header().Get("Content-Type"))
	var got md.Pin
	require.Nil(t, json.Unmarshal(wrec.Body.Bytes(), &got))
	assert.Equal(t, pin.ID, got.ID)
	assert.Equal(t, "in Illinois, USA", got.Subtitle)
	assert.True(t, got.IsNew)
}

func TestHandleTaskAcquirePhotos(t *testing.T) {
	pinID := ksuid.New().String()
	av := &md.AlbumView{
		Title:  "Photos From Springfield",
		Pin:    &md.Pin{ID: pinID},
		Photos: []md.PhotoView{{Photo: md.Photo{ID: "photo", PinID: pinID}}},
	}
	tcs := []struct {
		name         string
		path         string
		setup        func(a *mockAlbum)
		expectedCode int
	}{
		{
			name: "FindPhotos",
			path: "/pins/" + pinID + "/photos",
			setup: func(a *mockAlbum) {
				a.On("FindPhotos", mock.Anything, pinID).Return(av.Pin, nil)
				a.On("Album", pinID).Return(av, nil)
			},
			expectedCode: http.StatusOK,
		},
		{
			name: "NewPage",
			path: "/pins/" + pinID + "/page",
			setup: func(a *mockAlbum) {
				a.On("NewPage", mock.Anything, pinID).Return(av.Pin, nil)
				a.On("Album", pinID).Return(av, nil)
			},
			expectedCode: http.StatusOK,
		},
		{
			name: "SearchFailed",
			path: "/pins/" + pinID + "/photos",
			setup: func(a *mockAlbum) {
				a.On("FindPhotos", mock.Anything, pinID).Return(nil, pe.NewSearchFailed("error searching photos"))
			},
			expectedCode: http.StatusBadGateway,
		},
		{
			name: "PinNotFound",
			path: "/pins/" + pinID + "/page",
			setup: func(a *mockAlbum) {
				a.On("NewPage", mock.Anything, pinID).Return(nil, pe.NewNotFound("pin not found"))
			},
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "InvalidPinID",
			path:         "/pins/not-a-ksuid/photos",
			expectedCode: http.StatusNotFound,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			s, a := newTestServer(t)
			if c.setup != nil {
				c.setup(a)
			}
			wrec := do(s, http.MethodPost, c.path, "")
			assert.Equal(t, c.expectedCode, wrec.Code, "unexpected response status code")
			a.AssertExpectations(t)
			if wrec.Code == http.StatusOK {
				var got md.AlbumView
				require.Nil(t, json.Unmarshal(wrec.Body.Bytes(), &got))
				assert.Equal(t, "Photos From Springfield", got.Title)
				assert.Len(t, got.Photos, 1)
			}
		})
	}
}

func TestHandleTaskDelete(t *testing.T) {
	id := ksuid.New().String()
	tcs := []struct {
		name         string
		path         string
		setup        func(a *mockAlbum)
		expectedCode int
	}{
		{
			name: "DeletePin",
			path: "/pins/" + id,
			setup: func(a *mockAlbum) {
				a.On("DeletePin", id).Return(nil)
			},
			expectedCode: http.StatusNoContent,
		},
		{
			name: "DeletePinNotFound",
			path: "/pins/" + id,
			setup: func(a *mockAlbum) {
				a.On("DeletePin", id).Return(pe.NewNotFound("pin not found"))
			},
			expectedCode: http.StatusNotFound,
		},
		{
			name: "DeletePhoto",
			path: "/photos/" + id,
			setup: func(a *mockAlbum) {
				a.On("DeletePhoto", id).Return(nil)
			},
			expectedCode: http.StatusNoContent,
		},
		{
			name: "DeletePhotoStoreDown",
			path: "/photos/" + id,
			setup: func(a *mockAlbum) {
				a.On("DeletePhoto", id).Return(pe.NewPersistenceFailed("error deleting photo"))
			},
			expectedCode: http.StatusInternalServerError,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			s, a := newTestServer(t)
			c.setup(a)
			wrec := do(s, http.MethodDelete, c.path, "")
			assert.Equal(t, c.expectedCode, wrec.Code, "unexpected response status code")
			a.AssertExpectations(t)
		})
	}
}

func TestHandleTaskSaveViewport(t *testing.T) {
	s, _ := newTestServer(t)
	wrec := do(s, http.MethodPut, "/viewport", `{"longitude": -90, "latitude": 40, "width": 2, "height": 1.5}`)
	assert.Equal(t, http.StatusOK, wrec.Code)
	assert.NotEmpty(t, wrec.Header().Get("Set-Cookie"), "viewport shall be saved in a cookie")

	wrec = do(s, http.MethodPut, "/viewport", `{"longitude": -90, "latitude": 40, "width": 0, "height": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, wrec.Code)
	assert.Empty(t, wrec.Header().Get("Set-Cookie"))
}
