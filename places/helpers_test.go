package places

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"

	"github.com/stretchr/testify/mock"
	pe "wuyrush.io/tourist/errors"
	"wuyrush.io/tourist/models"
)

type mockTransport struct {
	http.RoundTripper
	mock.Mock
}

func (m *mockTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	args := m.Called(r)
	return args.Get(0).(*http.Response), args.Error(1)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       ioutil.NopCloser(bytes.NewReader([]byte(body))),
	}
}

type fakeGeocoder struct {
	pm    *Placemark
	err   *pe.Err
	calls []models.Coordinate
}

func (f *fakeGeocoder) ReverseGeocode(ctx context.Context, c models.Coordinate) (*Placemark, *pe.Err) {
	f.calls = append(f.calls, c)
	return f.pm, f.err
}

type fakePOISearch struct {
	pois  []POI
	err   *pe.Err
	calls int
}

func (f *fakePOISearch) Nearby(ctx context.Context, c models.Coordinate, radius float64) ([]POI, *pe.Err) {
	f.calls++
	return f.pois, f.err
}
