// SPDX-License-Identifier: GPL-3.0-or-later
package broadcaster

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/log"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultBuffer = 8

var ErrClosed = errors.New("broadcaster is closed")

type Subscription struct {
	Id     uuid.UUID
	UserId int64

	ch   chan domain.Event
	b    *Broadcaster
	once sync.Once
}

// Events is closed when the subscription or the broadcaster is closed.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.b.unsubscribe(s)
}

// Broadcaster fans events out to the live subscriptions of a user. Delivery
// is at most once, events for a full subscription are dropped.
type Broadcaster struct {
	l      *logrus.Logger
	buffer int

	lock   sync.RWMutex
	subs   map[int64]map[uuid.UUID]*Subscription
	closed bool

	dropped atomic.Uint64
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		l:      log.Logger(log.LOG_BROADCASTER),
		buffer: buffer,
		subs:   map[int64]map[uuid.UUID]*Subscription{},
	}
}

func (b *Broadcaster) Subscribe(userId int64) (*Subscription, error) {
	s := &Subscription{
		Id:     uuid.New(),
		UserId: userId,
		ch:     make(chan domain.Event, b.buffer),
		b:      b,
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.subs[userId]; !ok {
		b.subs[userId] = map[uuid.UUID]*Subscription{}
	}
	b.subs[userId][s.Id] = s

	b.l.WithFields(logrus.Fields{"user": userId, "subscription": s.Id}).Debug("Subscribed")
	return s, nil
}

func (b *Broadcaster) unsubscribe(s *Subscription) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if subscribers, ok := b.subs[s.UserId]; ok {
		delete(subscribers, s.Id)
		if len(subscribers) == 0 {
			delete(b.subs, s.UserId)
		}
	}
	s.once.Do(func() { close(s.ch) })
	b.l.WithFields(logrus.Fields{"user": s.UserId, "subscription": s.Id}).Debug("Unsubscribed")
}

// Publish never blocks.
func (b *Broadcaster) Publish(userId int64, event domain.Event) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	for _, s := range b.subs[userId] {
		select {
		case s.ch <- event:
		default:
			b.dropped.Add(1)
			b.l.WithFields(logrus.Fields{"user": userId, "subscription": s.Id, "kind": event.Kind}).Warn("Subscriber too slow, dropped event")
		}
	}
}

// Close ends every subscription, later subscriptions fail with ErrClosed.
func (b *Broadcaster) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.closed = true
	for userId, subscribers := range b.subs {
		for _, s := range subscribers {
			s.once.Do(func() { close(s.ch) })
		}
		delete(b.subs, userId)
	}
	b.l.Info("Closed all subscriptions")
}

func (b *Broadcaster) Subscribers() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	n := 0
	for _, subscribers := range b.subs {
		n += len(subscribers)
	}
	return n
}

func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}
