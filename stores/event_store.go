package stores

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"wuyrush.io/tourist/common/logging"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

// RedisEvents fans pin and photo events out to other services over a Redis pub/sub channel
type RedisEvents struct {
	DB      *redis.Client
	Channel string
}

func (s *RedisEvents) Publish(e md.Event) *pe.Err {
	b, err := json.Marshal(e)
	if err != nil {
		return pe.NewServiceFailure("error marshalling event").WithCause(err)
	}
	if _, err := s.DB.Publish(s.Channel, b).Result(); err != nil {
		logging.WithFuncName().WithError(err).WithField("kind", e.Kind).Warn("error publishing event to redis")
		return pe.NewServiceFailure("error publishing event").WithCause(err)
	}
	return nil
}

// Subscribe returns events published from now on. Calling the returned function ends the subscription
// and closes the event channel.
func (s *RedisEvents) Subscribe() (<-chan md.Event, func()) {
	clog := logging.WithFuncName().WithField("channel", s.Channel)
	sub := s.DB.Subscribe(s.Channel)
	// wait for the subscription to be confirmed so that no event published after Subscribe returns is missed
	if _, err := sub.Receive(); err != nil {
		clog.WithError(err).Warn("error confirming redis subscription")
	}
	msgs := sub.Channel()
	events := make(chan md.Event)
	done := make(chan struct{})
	go func() {
		defer close(events)
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				e, err := decodeEvent(msg.Payload)
				if err != nil {
					clog.WithError(err).Warn("dropping malformed event")
					continue
				}
				select {
				case events <- e:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	return events, func() {
		close(done)
		if err := sub.Close(); err != nil {
			clog.WithError(err).Warn("error closing redis subscription")
		}
	}
}

func decodeEvent(payload string) (md.Event, error) {
	var e md.Event
	err := json.Unmarshal([]byte(payload), &e)
	return e, err
}
