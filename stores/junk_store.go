package stores

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"wuyrush.io/tourist/common/logging"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

// JunkStore keeps track of image files which shall be removed from file storage
type JunkStore interface {
	// Discard registers file refs as junk
	Discard(refs ...string) *pe.Err
	// Junk returns junk of size max, oldest first; It returns all junk when max == 0
	Junk(max int) ([]*md.Junk, *pe.Err)
	// Deregister forgets ref. Caller must ensure the file is removed before calling Deregister to avoid
	// leaking files
	Deregister(ref string) *pe.Err
	Close() *pe.Err
}

// RedisJunk is a JunkStore driven by a Redis sorted set whose score is the time a ref became junk
type RedisJunk struct {
	DB *redis.Client
}

// redis key of the sorted set of junk file refs
const keyJunk = "junk"

func (s *RedisJunk) Discard(refs ...string) *pe.Err {
	if len(refs) == 0 {
		return nil
	}
	now := float64(time.Now().Unix())
	members := make([]redis.Z, 0, len(refs))
	for _, ref := range refs {
		members = append(members, redis.Z{Score: now, Member: ref})
	}
	if _, err := s.DB.ZAddNX(keyJunk, members...).Result(); err != nil {
		logging.WithFuncName().WithError(err).WithField("refs", refs).Error("error calling redis to register junk refs")
		return pe.NewPersistenceFailed("error discarding files").WithCause(err)
	}
	return nil
}

func (s *RedisJunk) Junk(max int) ([]*md.Junk, *pe.Err) {
	const errMsg = "error loading junk"
	clog := logging.WithFuncName()
	if max < 0 {
		return nil, pe.NewBadInput(fmt.Sprintf("got negative max item count %d", max))
	}
	// a zero count leaves out the LIMIT clause
	opt := redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(time.Now().Unix(), 10), Count: int64(max)}
	zs, err := s.DB.ZRangeByScoreWithScores(keyJunk, opt).Result()
	if err != nil {
		clog.WithError(err).Error("error calling redis to get junk refs")
		return nil, pe.NewPersistenceFailed(errMsg).WithCause(err)
	}
	jks := make([]*md.Junk, 0, len(zs))
	for _, z := range zs {
		ref, ok := z.Member.(string)
		if !ok {
			continue
		}
		jks = append(jks, &md.Junk{Ref: ref, Since: time.Unix(int64(z.Score), 0)})
	}
	clog.WithField("junkCount", len(jks)).Debug("done loading junk")
	return jks, nil
}

func (s *RedisJunk) Deregister(ref string) *pe.Err {
	// redis ignores the error upon ZREM if the member is non-existent
	if _, err := s.DB.ZRem(keyJunk, ref).Result(); err != nil {
		logging.WithFuncName().WithError(err).WithField("ref", ref).Error("error calling redis to deregister junk ref")
		return pe.NewPersistenceFailed("error deregistering junk").WithCause(err)
	}
	return nil
}

func (s *RedisJunk) Close() *pe.Err {
	if err := s.DB.Close(); err != nil {
		return pe.NewPersistenceFailed("failed close Redis client").WithCause(err)
	}
	return nil
}

// MemoryJunk is a JunkStore in process memory
type MemoryJunk struct {
	mu   sync.Mutex
	junk map[string]time.Time
}

func NewMemoryJunk() *MemoryJunk {
	return &MemoryJunk{junk: make(map[string]time.Time)}
}

func (s *MemoryJunk) Discard(refs ...string) *pe.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, ref := range refs {
		if _, ok := s.junk[ref]; !ok {
			s.junk[ref] = now
		}
	}
	return nil
}

func (s *MemoryJunk) Junk(max int) ([]*md.Junk, *pe.Err) {
	if max < 0 {
		return nil, pe.NewBadInput(fmt.Sprintf("got negative max item count %d", max))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	jks := make([]*md.Junk, 0, len(s.junk))
	for ref, since := range s.junk {
		jks = append(jks, &md.Junk{Ref: ref, Since: since})
	}
	sortJunk(jks)
	if max > 0 && len(jks) > max {
		jks = jks[:max]
	}
	return jks, nil
}

func (s *MemoryJunk) Deregister(ref string) *pe.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.junk, ref)
	return nil
}

func (s *MemoryJunk) Close() *pe.Err {
	return nil
}

func sortJunk(jks []*md.Junk) {
	sort.Slice(jks, func(i, j int) bool {
		if !jks[i].Since.Equal(jks[j].Since) {
			return jks[i].Since.Before(jks[j].Since)
		}
		return jks[i].Ref < jks[j].Ref
	})
}
