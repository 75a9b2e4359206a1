package stores

import (
	"bufio"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	cst "wuyrush.io/tourist/constants"
	pe "wuyrush.io/tourist/errors"
)

// FileStore stores image files of photos
type FileStore interface {
	// Ref returns the reference of file in file storage layer for future persistence and access. It should
	// always be deterministic based on pin ID and photo ID
	Ref(pinID, photoID string) string
	Save(ref string, r io.Reader) *pe.Err
	Get(ref string) (io.ReadCloser, *pe.Err)
	// Delete deletes file from store. Delete must be idempotent
	Delete(ref string) *pe.Err
	Close() *pe.Err
}

// LocalFileStore implements FileStore backed by local file system
type LocalFileStore struct {
	Dir string
	// files larger than MaxBytes are rejected
	MaxBytes int64
}

func (fs *LocalFileStore) Ref(pinID, photoID string) string {
	return filepath.Join(fs.Dir, pinID, photoID+".jpg")
}

// Save writes data from r to the file at ref. Readers never observe partially written files.
func (fs *LocalFileStore) Save(ref string, r io.Reader) *pe.Err {
	// 1. prepare file to host data
	errMsg := "error allocating file storage space"
	dir := filepath.Dir(ref)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return pe.NewPersistenceFailed(errMsg).WithCause(err)
	}
	f, err := ioutil.TempFile(dir, filepath.Base(ref)+".*.tmp")
	if err != nil {
		return pe.NewPersistenceFailed(errMsg).WithCause(err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	// 2. pipe data to file
	br := bufio.NewReader(http.MaxBytesReader(nil, ioutil.NopCloser(r), fs.MaxBytes))
	if _, err := br.WriteTo(f); err != nil {
		f.Close()
		if strings.Contains(err.Error(), cst.ErrMsgRequestBodyTooLarge) {
			return pe.NewOversized().WithCause(err)
		}
		return pe.NewPersistenceFailed("error saving image data").WithCause(err)
	}
	if err := f.Close(); err != nil {
		return pe.NewPersistenceFailed("error saving image data").WithCause(err)
	}
	// 3. publish file
	if err := os.Rename(tmp, ref); err != nil {
		return pe.NewPersistenceFailed("error saving image data").WithCause(err)
	}
	return nil
}

func (fs *LocalFileStore) Get(ref string) (io.ReadCloser, *pe.Err) {
	f, err := os.Open(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pe.NewNotFound("image not found").WithCause(err)
		}
		return nil, pe.NewPersistenceFailed("error retrieving image").WithCause(err)
	}
	return f, nil
}

func (fs *LocalFileStore) Delete(ref string) *pe.Err {
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		return pe.NewPersistenceFailed("error removing image").WithCause(err)
	}
	// the pin directory stays since a fetch may be saving into it
	return nil
}

func (fs *LocalFileStore) Close() *pe.Err {
	return nil
}
