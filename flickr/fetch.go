package flickr

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"

	pe "wuyrush.io/tourist/errors"
)

// ImageURL returns where the large (1024px) rendition of item is served under base
func ImageURL(base string, it Item) string {
	return fmt.Sprintf("%s/%s/%s_%s_b.jpg", base, it.Server, it.RemoteID, it.Secret)
}

// Fetcher retrieves image bytes. It makes a single attempt per call and keeps no state, so it is
// safe to use from many goroutines.
type Fetcher struct {
	HC *http.Client
	// responses larger than MaxBytes are rejected; zero means no limit
	MaxBytes int64
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, *pe.Err) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pe.NewFetchFailed("error creating image request").WithCause(err)
	}
	resp, err := f.HC.Do(req)
	if err != nil {
		return nil, pe.NewFetchFailed("error getting image").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, pe.NewFetchFailed("image server rejected request").WithCause(fmt.Errorf("status %d", resp.StatusCode))
	}
	var r io.Reader = resp.Body
	if f.MaxBytes > 0 {
		r = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, pe.NewFetchFailed("error reading image").WithCause(err)
	}
	if f.MaxBytes > 0 && int64(len(b)) > f.MaxBytes {
		return nil, pe.NewFetchFailed("error reading image").WithCause(pe.NewOversized())
	}
	return b, nil
}
