package service

import (
	"sync"

	"github.com/google/uuid"

	"etlsched/internal/scheduler"
	"etlsched/pkg/logx"
)

// Subscriber is one event consumer channel. Read from C until it closes;
// call Unsubscribe (or Service removal on overflow) to release it.
type Subscriber struct {
	ID string
	C  chan scheduler.Payload

	once sync.Once
}

func (sub *Subscriber) close() {
	sub.once.Do(func() { close(sub.C) })
}

// Subscribe registers a new bounded event consumer.
func (s *Service) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID: uuid.NewString(),
		C:  make(chan scheduler.Payload, s.subBuf),
	}
	s.subMu.Lock()
	s.subs[sub.ID] = sub
	s.subMu.Unlock()
	return sub
}

// Unsubscribe removes a consumer and closes its channel. Safe to call
// twice, and safe to race with broadcast (sends recover on closed
// channels).
func (s *Service) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	s.subMu.Lock()
	delete(s.subs, sub.ID)
	s.subMu.Unlock()
	sub.close()
}

// SubscriberCount reports the number of active consumers.
func (s *Service) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// broadcast fans one payload out to every subscriber without blocking the
// scheduler. On a full channel the oldest queued payload is evicted to
// make room (freshness over completeness); if the retry still fails the
// subscriber is dropped entirely, treated as disconnected.
func (s *Service) broadcast(p scheduler.Payload) {
	s.subMu.Lock()
	subs := make([]*Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		if !trySend(sub, p) {
			s.log.Warn("dropping slow event subscriber", logx.String("subscriber", sub.ID))
			s.Unsubscribe(sub)
		}
	}
}

// trySend attempts a non-blocking send, evicting the oldest queued item
// once. Returns false if the channel is still full afterwards. A closed
// channel (concurrent unsubscribe) is treated as delivered.
func trySend(sub *Subscriber, p scheduler.Payload) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = true
		}
	}()

	select {
	case sub.C <- p:
		return true
	default:
	}

	// Evict the oldest queued payload, then retry once.
	select {
	case <-sub.C:
	default:
	}
	select {
	case sub.C <- p:
		return true
	default:
		return false
	}
}
