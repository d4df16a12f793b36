package eventbus

import "sync"

// subscription holds one Subscribe call's state: a pending-payload map keyed
// by the event key (so a slow subscriber coalesces repeated publishes to the
// same key down to the latest one instead of blocking the publisher or
// growing without bound) and a single-slot wake-up channel.
type subscription struct {
	handler func(key string, payload any)

	mu      sync.Mutex
	pending map[string]any

	wake chan struct{}
	done chan struct{}
}

func newSubscription(handler func(key string, payload any)) *subscription {
	s := &subscription{
		handler: handler,
		pending: make(map[string]any),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *subscription) deliver(key string, payload any) {
	s.mu.Lock()
	s.pending[key] = payload
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
		// A wake-up is already queued; the loop will see this payload
		// once it drains the pending map.
	}
}

func (s *subscription) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.mu.Lock()
			batch := s.pending
			s.pending = make(map[string]any)
			s.mu.Unlock()
			for key, payload := range batch {
				s.handler(key, payload)
			}
		}
	}
}

func (s *subscription) close() { close(s.done) }

// LocalBus is the in-process Bus implementation: subscriber fan-out happens
// via direct goroutine dispatch with no network hop, using a non-blocking
// per-subscriber select/default send so one slow subscriber never stalls
// the publisher or its peers.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription
}

// NewLocalBus creates an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string][]*subscription)}
}

// Publish hands payload to every current subscriber of topic. Non-blocking:
// a slow subscriber only ever sees the latest payload for a given key.
func (b *LocalBus) Publish(topic, key string, payload any) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(key, payload)
	}
}

// Subscribe registers handler for topic and returns a func that removes it.
func (b *LocalBus) Subscribe(topic string, handler func(key string, payload any)) func() {
	sub := newSubscription(handler)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		list := b.subs[topic]
		for i, s := range list {
			if s == sub {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.close()
	}
}
