package places

import (
	"context"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	pe "wuyrush.io/tourist/errors"
	"wuyrush.io/tourist/models"
)

func TestOverpass_Nearby(t *testing.T) {
	body := `{"elements":[
		{"type":"node","lat":39.7818,"lon":-89.6501,"tags":{"name":"Old Mill","historic":"mill"}},
		{"type":"way","center":{"lat":39.7820,"lon":-89.6502},"tags":{"name":"City Park","leisure":"park"}},
		{"type":"node","lat":39.7819,"lon":-89.6500,"tags":{"amenity":"bench"}}
	]}`
	m := &mockTransport{}
	m.On("RoundTrip", mock.Anything).Run(func(args mock.Arguments) {
		req := args.Get(0).(*http.Request)
		assert.Equal(t, http.MethodPost, req.Method)
		b, err := ioutil.ReadAll(req.Body)
		assert.NoError(t, err)
		form, err := url.ParseQuery(string(b))
		assert.NoError(t, err)
		assert.Contains(t, form.Get("data"), "around:75,39.781700,-89.650100")
		assert.Contains(t, form.Get("data"), "[out:json]")
	}).Return(jsonResponse(http.StatusOK, body), nil)
	o := &Overpass{URL: "http://fake-overpass/api/interpreter", UserAgent: "tourist-test", HC: &http.Client{Transport: m}}

	pois, err := o.Nearby(context.Background(), tapped, 75)

	assert.Nil(t, err)
	assert.Equal(t, []POI{
		{Name: "Old Mill", Coordinate: models.Coordinate{Latitude: 39.7818, Longitude: -89.6501}},
		{Name: "City Park", Coordinate: models.Coordinate{Latitude: 39.7820, Longitude: -89.6502}},
	}, pois, "unnamed elements shall be dropped and ways located at their center")
}

func TestOverpass_NearbyFailures(t *testing.T) {
	tcs := []struct {
		name  string
		resp  *http.Response
		rtErr error
	}{
		{name: "NetworkError", resp: (*http.Response)(nil), rtErr: &net.AddrError{Err: "no internet"}},
		{name: "Overloaded", resp: jsonResponse(http.StatusGatewayTimeout, `{}`)},
		{name: "Garbage", resp: jsonResponse(http.StatusOK, `not json`)},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			m := &mockTransport{}
			m.On("RoundTrip", mock.Anything).Return(c.resp, c.rtErr)
			o := &Overpass{URL: "http://fake-overpass/api/interpreter", HC: &http.Client{Transport: m}}
			pois, err := o.Nearby(context.Background(), tapped, 75)
			assert.Nil(t, pois)
			if assert.NotNil(t, err) {
				assert.Equal(t, pe.ErrCodeGeocodeFailed, err.Code)
			}
		})
	}
}
