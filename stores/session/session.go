// Package session vends a github.com/gorilla/sessions.Store keeping session values in Redis, so that
// clients only ever hold an opaque session id.
package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis"
	"github.com/gorilla/sessions"
	"github.com/segmentio/ksuid"
)

const keyPrefix = "session:"

// RediStore is a sessions.Store persisting session values as JSON under a random session id. Values must
// be keyed by strings; JSON numbers come back as float64.
type RediStore struct {
	DB      *redis.Client
	Options *sessions.Options
}

func NewRediStore(db *redis.Client, maxAge int) *RediStore {
	return &RediStore{
		DB: db,
		Options: &sessions.Options{
			Path:     "/",
			MaxAge:   maxAge,
			HttpOnly: true,
		},
	}
}

// Get returns the session cached for r, loading it from Redis on first access
func (s *RediStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New returns the session named by the cookie of r, or a fresh session if r has none or it expired.
// It never returns a nil session.
func (s *RediStore) New(r *http.Request, name string) (*sessions.Session, error) {
	sess := sessions.NewSession(s, name)
	opts := *s.Options
	sess.Options = &opts
	sess.IsNew = true
	c, err := r.Cookie(name)
	if err != nil {
		return sess, nil
	}
	data, err := s.DB.Get(keyPrefix + c.Value).Bytes()
	if err == redis.Nil {
		return sess, nil
	}
	if err != nil {
		return sess, err
	}
	vals, err := decode(data)
	if err != nil {
		return sess, err
	}
	sess.ID = c.Value
	sess.Values = vals
	sess.IsNew = false
	return sess, nil
}

// Save persists sess and sets its id cookie on w. A session with negative MaxAge is deleted.
func (s *RediStore) Save(r *http.Request, w http.ResponseWriter, sess *sessions.Session) error {
	if sess.Options.MaxAge < 0 {
		if sess.ID != "" {
			if err := s.DB.Del(keyPrefix + sess.ID).Err(); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(sess.Name(), "", sess.Options))
		return nil
	}
	if sess.ID == "" {
		sess.ID = ksuid.New().String()
	}
	data, err := encode(sess.Values)
	if err != nil {
		return err
	}
	exp := time.Duration(sess.Options.MaxAge) * time.Second
	if err := s.DB.Set(keyPrefix+sess.ID, data, exp).Err(); err != nil {
		return err
	}
	http.SetCookie(w, sessions.NewCookie(sess.Name(), sess.ID, sess.Options))
	return nil
}

func encode(vals map[interface{}]interface{}) ([]byte, error) {
	m := make(map[string]interface{}, len(vals))
	for k, v := range vals {
		ks, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("session value key %v is not a string", k)
		}
		m[ks] = v
	}
	return json.Marshal(m)
}

func decode(data []byte) (map[interface{}]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	vals := make(map[interface{}]interface{}, len(m))
	for k, v := range m {
		vals[k] = v
	}
	return vals, nil
}
