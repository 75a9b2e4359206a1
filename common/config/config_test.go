package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cst "wuyrush.io/tourist/constants"
)

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "tourist-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)
	defer viper.Reset()

	dotenv := cst.EnvFlickrAPIKey + "=fakeKey\n" + cst.EnvRedisPort + "=6380\n"
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0600))
	os.Setenv(cst.EnvRedisPort, "6381")
	defer os.Unsetenv(cst.EnvRedisPort)
	defer os.Unsetenv(cst.EnvFlickrAPIKey)

	Load()

	assert.Equal(t, "fakeKey", viper.GetString(cst.EnvFlickrAPIKey), ".env values shall be loaded")
	assert.Equal(t, "6381", viper.GetString(cst.EnvRedisPort), "environment shall win over .env")
	assert.Equal(t, 0.065, viper.GetFloat64(cst.EnvPOIMaxZoomSpan), "defaults shall be registered")
	assert.Equal(t, 30*time.Second, viper.GetDuration(cst.EnvFetchTimeout))
	assert.Equal(t, cst.StoreBackendRedis, viper.GetString(cst.EnvStoreBackend))
}
