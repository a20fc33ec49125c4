package websocketPkg

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// IHub fans out messages to every live subscriber. Publish never blocks:
// a subscriber whose buffer is full misses the message.
type IHub interface {
	Subscribe() (<-chan []byte, func())
	Publish(v any)
	Subscribers() int
	Close()
}

type hub struct {
	log    *logrus.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	closed bool
}

func NewHub(log *logrus.Logger, buffer int) IHub {
	if buffer < 1 {
		buffer = 16
	}
	return &hub{
		log:    log,
		buffer: buffer,
		subs:   make(map[chan []byte]struct{}),
	}
}

func (h *hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *hub) Publish(v any) {
	msg, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Error("Failed to encode feed message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}

	if dropped > 0 {
		h.log.WithFields(logrus.Fields{
			"dropped": dropped,
		}).Warn("Feed subscribers too slow, message dropped")
	}
}

func (h *hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
