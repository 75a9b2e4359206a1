package middleware

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	hr "github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
)

func TestPanicRecover(t *testing.T) {
	wrec, req := httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fake", nil)
	prm := hr.Param{Key: "foo", Value: "bar"}
	cnt := 0
	touch := func() { cnt++ }
	h := func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		touch()
		// params are passed through as expected
		assert.Equal(t, wrec, w, "unexpected response writer")
		assert.Equal(t, req, r, "unexpected request value")
		assert.Equal(t, hr.Params{prm}, p, "unexpected request value")
		panic("boom!")
	}
	wrapped := Chain(h, PanicRecoverer())

	wrapped(wrec, req, hr.Params{prm})
	assert.Equal(t, 1, cnt, "underlyig handler not called by middleware")
	assert.Equal(t, http.StatusInternalServerError, wrec.Code)
}

func TestBodyLimiter(t *testing.T) {
	var readErr error
	h := func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		_, readErr = ioutil.ReadAll(r.Body)
	}
	wrapped := Chain(h, BodyLimiter(4))

	wrapped(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/fake", strings.NewReader("abc")), nil)
	assert.NoError(t, readErr)

	wrapped(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/fake", strings.NewReader("abcdefgh")), nil)
	assert.Error(t, readErr, "reading past the limit must fail")
}

func TestRequestLogger(t *testing.T) {
	wrec := httptest.NewRecorder()
	h := func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		w.WriteHeader(http.StatusTeapot)
	}
	Chain(h, RequestLogger())(wrec, httptest.NewRequest(http.MethodGet, "/fake", nil), nil)
	assert.Equal(t, http.StatusTeapot, wrec.Code, "status must pass through the recorder")
}
