package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionValuesRoundTrip(t *testing.T) {
	vals := map[interface{}]interface{}{
		"longitude": -90.0,
		"latitude":  40.5,
		"label":     "home",
	}
	data, err := encode(vals)
	require.Nil(t, err)
	got, err := decode(data)
	require.Nil(t, err)
	assert.Equal(t, vals, got)
}

func TestSessionValuesNeedStringKeys(t *testing.T) {
	_, err := encode(map[interface{}]interface{}{1: "one"})
	assert.NotNil(t, err)
	_, err = decode([]byte("not json"))
	assert.NotNil(t, err)
}

func TestNewRediStore(t *testing.T) {
	s := NewRediStore(nil, 3600)
	assert.Equal(t, 3600, s.Options.MaxAge)
	assert.True(t, s.Options.HttpOnly)
	assert.Equal(t, "/", s.Options.Path)
}
