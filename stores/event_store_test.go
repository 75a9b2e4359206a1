package stores

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	md "wuyrush.io/tourist/models"
)

func TestDecodeEvent(t *testing.T) {
	e := md.Event{Kind: md.EventPhotoImageReady, PinID: "pin", PhotoID: "photo", Time: time.Unix(1695600000, 0).UTC()}
	b, err := json.Marshal(e)
	require.NoError(t, err)
	decoded, err := decodeEvent(string(b))
	require.NoError(t, err)
	assert.Equal(t, e, decoded)

	_, err = decodeEvent("not json")
	assert.Error(t, err)
}
