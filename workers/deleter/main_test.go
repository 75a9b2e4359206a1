package main

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bluele/gcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pe "wuyrush.io/tourist/errors"
	st "wuyrush.io/tourist/stores"
)

type fakeFS struct {
	mu      sync.Mutex
	deleted map[string]int
	fail    map[string]bool
}

func newFakeFS() *fakeFS {
	return &fakeFS{deleted: map[string]int{}, fail: map[string]bool{}}
}

func (fs *fakeFS) Ref(pinID, photoID string) string {
	return pinID + "/" + photoID
}

func (fs *fakeFS) Save(ref string, r io.Reader) *pe.Err {
	return pe.NewNotImplemented()
}

func (fs *fakeFS) Get(ref string) (io.ReadCloser, *pe.Err) {
	return nil, pe.NewNotImplemented()
}

func (fs *fakeFS) Delete(ref string) *pe.Err {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.fail[ref] {
		return pe.NewPersistenceFailed("fake delete failure")
	}
	fs.deleted[ref]++
	return nil
}

func (fs *fakeFS) Close() *pe.Err {
	return nil
}

func newDeleter(t *testing.T, refs ...string) (*deleter, *fakeFS, *st.MemoryJunk) {
	js := st.NewMemoryJunk()
	require.Nil(t, js.Discard(refs...))
	fs := newFakeFS()
	return &deleter{
		FS:        fs,
		JS:        js,
		wipCache:  gcache.New(16).LRU().Build(),
		wipExpiry: time.Minute,
	}, fs, js
}

func TestDeleterLoadSkipsWIP(t *testing.T) {
	d, _, _ := newDeleter(t, "a", "b", "c")
	jks, err := d.Load(0)
	require.Nil(t, err)
	assert.Len(t, jks, 3)

	// refs loaded already are being deleted, so the next load skips them
	jks, err = d.Load(0)
	require.Nil(t, err)
	assert.Empty(t, jks)
}

func TestDeleterLoadMax(t *testing.T) {
	d, _, _ := newDeleter(t, "a", "b", "c")
	jks, err := d.Load(2)
	require.Nil(t, err)
	assert.Len(t, jks, 2)
}

func TestDeleterDelete(t *testing.T) {
	d, fs, js := newDeleter(t, "a", "b")
	fs.fail["b"] = true
	jks, err := d.Load(0)
	require.Nil(t, err)
	require.Len(t, jks, 2)
	for _, jk := range jks {
		derr := d.Delete(jk)
		if jk.Ref == "b" {
			assert.NotNil(t, derr)
		} else {
			assert.Nil(t, derr)
		}
	}
	left, err := js.Junk(0)
	require.Nil(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "b", left[0].Ref, "junk whose file survived shall stay registered")
	assert.Equal(t, 1, fs.deleted["a"])

	_, gerr := d.wipCache.Get("a")
	assert.Equal(t, gcache.KeyNotFoundError, gerr, "deleted refs shall leave the WIP cache")
	_, gerr = d.wipCache.Get("b")
	assert.Nil(t, gerr, "refs failing deletion stay WIP until expiry")
}

func TestDeleterSweep(t *testing.T) {
	d, fs, js := newDeleter(t, "a", "b", "c", "d", "e")
	quotas := make(chan struct{}, 2)
	var wg sync.WaitGroup
	require.Nil(t, d.Sweep(0, quotas, &wg))
	wg.Wait()
	left, err := js.Junk(0)
	require.Nil(t, err)
	assert.Empty(t, left)
	for _, ref := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, 1, fs.deleted[ref])
	}
}
