package stores

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

var epoch = time.Date(2023, 9, 25, 0, 0, 0, 0, time.UTC)

// forEachPinStore runs test against every PinStore implementation backed by an in-process server
func forEachPinStore(t *testing.T, test func(t *testing.T, s PinStore)) {
	tcs := []struct {
		name     string
		newStore func(t *testing.T) PinStore
	}{
		{
			name:     "Memory",
			newStore: func(*testing.T) PinStore { return NewMemoryStore() },
		},
		{
			name: "Redis",
			newStore: func(t *testing.T) PinStore {
				return &RedisStore{DB: newRedis(t), OptLockRetry: 8}
			},
		},
	}
	for _, c := range tcs {
		newStore := c.newStore
		t.Run(c.name, func(t *testing.T) {
			test(t, newStore(t))
		})
	}
}

func fakePin(id string, age time.Duration) *md.Pin {
	return md.NewPin(id, md.Coordinate{Latitude: 39.78, Longitude: -89.65}, md.Place{Title: "Springfield"}, epoch.Add(age))
}

func fakePhotos(n int) []*md.Photo {
	photos := make([]*md.Photo, n)
	for i := range photos {
		photos[i] = &md.Photo{
			ID:           fmt.Sprintf("photo%02d", i),
			RemoteID:     fmt.Sprintf("remote%02d", i),
			URL:          fmt.Sprintf("https://fake-static/%d_b.jpg", i),
			Distance:     float64(n - i),
			CreationTime: epoch,
		}
	}
	return photos
}

func TestPinStore_Pins(t *testing.T) {
	forEachPinStore(t, testPins)
}

func testPins(t *testing.T, s PinStore) {
	require.Nil(t, s.CreatePin(fakePin("b", time.Minute)))
	require.Nil(t, s.CreatePin(fakePin("a", 0)))
	err := s.CreatePin(fakePin("a", 0))
	if assert.NotNil(t, err) {
		assert.Equal(t, pe.ErrCodeBadRequest, err.Code)
	}

	pins, err := s.ListPins()
	require.Nil(t, err)
	require.Len(t, pins, 2)
	assert.Equal(t, "a", pins[0].ID, "pins shall be listed oldest first")
	assert.Equal(t, "b", pins[1].ID)

	_, err = s.GetPin("nope")
	assert.True(t, pe.Is(err, pe.ErrCodeNotFound))
}

func TestPinStore_SaveStateKeepsPhotoCount(t *testing.T) {
	forEachPinStore(t, testSaveStateKeepsPhotoCount)
}

func testSaveStateKeepsPhotoCount(t *testing.T, s PinStore) {
	require.Nil(t, s.CreatePin(fakePin("a", 0)))
	photos := fakePhotos(2)
	require.Nil(t, s.AddPhotos("a", photos))
	_, err := s.MarkImageReady(photos[0].ID, "ref0")
	require.Nil(t, err)

	stale := fakePin("a", 0)
	stale.IsNew, stale.RadiusIndex, stale.CurrentPage, stale.NumberOfPages = false, 3, 2, 5
	require.Nil(t, s.SaveState(stale))

	p, err := s.GetPin("a")
	require.Nil(t, err)
	assert.False(t, p.IsNew)
	assert.Equal(t, 3, p.RadiusIndex)
	assert.Equal(t, 2, p.CurrentPage)
	assert.Equal(t, 5, p.NumberOfPages)
	assert.Equal(t, 1, p.NumberOfPhotos, "saving state from a stale snapshot shall not clobber the photo count")

	err = s.SaveState(fakePin("gone", 0))
	assert.True(t, pe.Is(err, pe.ErrCodeNotFound))
}

func TestPinStore_PhotoLifecycle(t *testing.T) {
	forEachPinStore(t, testPhotoLifecycle)
}

func testPhotoLifecycle(t *testing.T, s PinStore) {
	require.Nil(t, s.CreatePin(fakePin("a", 0)))
	photos := fakePhotos(3)
	require.Nil(t, s.AddPhotos("a", photos))
	assert.True(t, pe.Is(s.AddPhotos("gone", fakePhotos(1)), pe.ErrCodeNotFound))

	listed, err := s.ListPhotos("a")
	require.Nil(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "photo02", listed[0].ID, "photos shall be listed nearest first")
	assert.Equal(t, "a", listed[0].PinID)

	marked, err := s.MarkImageReady("photo00", "ref0")
	require.Nil(t, err)
	assert.True(t, marked)
	marked, err = s.MarkImageReady("photo00", "ref0-again")
	require.Nil(t, err)
	assert.False(t, marked, "an image shall be counted once")
	_, err = s.MarkImageReady("photo01", "ref1")
	require.Nil(t, err)
	assertPhotoCount(t, s, "a", 2)

	// deleting a photo without image keeps the count
	deleted, err := s.DeletePhoto("photo02")
	require.Nil(t, err)
	assert.False(t, deleted.HasImage())
	assertPhotoCount(t, s, "a", 2)

	deleted, err = s.DeletePhoto("photo00")
	require.Nil(t, err)
	assert.Equal(t, "ref0", deleted.ImageRef)
	assertPhotoCount(t, s, "a", 1)

	_, err = s.DeletePhoto("photo00")
	assert.True(t, pe.Is(err, pe.ErrCodeNotFound))
	marked, err = s.MarkImageReady("photo00", "ref0")
	assert.False(t, marked)
	assert.True(t, pe.Is(err, pe.ErrCodeNotFound), "deleted photos shall not be resurrected")
	assertPhotoCount(t, s, "a", 1)
}

func TestPinStore_DeletePhotosAndPin(t *testing.T) {
	forEachPinStore(t, testDeletePhotosAndPin)
}

func testDeletePhotosAndPin(t *testing.T, s PinStore) {
	require.Nil(t, s.CreatePin(fakePin("a", 0)))
	require.Nil(t, s.AddPhotos("a", fakePhotos(4)))
	for _, id := range []string{"photo00", "photo01"} {
		_, err := s.MarkImageReady(id, "ref-"+id)
		require.Nil(t, err)
	}

	deleted, err := s.DeletePhotos("a")
	require.Nil(t, err)
	assert.Len(t, deleted, 4)
	assertPhotoCount(t, s, "a", 0)
	listed, err := s.ListPhotos("a")
	require.Nil(t, err)
	assert.Empty(t, listed)

	require.Nil(t, s.AddPhotos("a", fakePhotos(2)))
	deleted, err = s.DeletePin("a")
	require.Nil(t, err)
	assert.Len(t, deleted, 2)
	_, err = s.GetPin("a")
	assert.True(t, pe.Is(err, pe.ErrCodeNotFound))
	_, err = s.GetPhoto("photo00")
	assert.True(t, pe.Is(err, pe.ErrCodeNotFound), "photos shall be deleted along with their pin")
	_, err = s.DeletePin("a")
	assert.True(t, pe.Is(err, pe.ErrCodeNotFound))
}

func TestPinStore_ConcurrentMarks(t *testing.T) {
	forEachPinStore(t, testConcurrentMarks)
}

func testConcurrentMarks(t *testing.T, s PinStore) {
	require.Nil(t, s.CreatePin(fakePin("a", 0)))
	photos := fakePhotos(50)
	require.Nil(t, s.AddPhotos("a", photos))
	var wg sync.WaitGroup
	for _, ph := range photos {
		// every photo is marked twice concurrently
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _ = s.MarkImageReady(id, "ref-"+id)
			}(ph.ID)
		}
	}
	wg.Wait()
	assertPhotoCount(t, s, "a", 50)
}

func assertPhotoCount(t *testing.T, s PinStore, pinID string, expected int) {
	t.Helper()
	p, err := s.GetPin(pinID)
	require.Nil(t, err)
	assert.Equal(t, expected, p.NumberOfPhotos, "unexpected photo count")
}
