// SPDX-License-Identifier: GPL-3.0-or-later
package broadcaster

import (
	"sync"
	"testing"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(id int64) domain.Event {
	return domain.Event{Kind: domain.EventPhishingUpdate, MessageId: id, Level: domain.LevelNormal, Status: domain.StatusCompleted}
}

func TestPublishToUser(t *testing.T) {
	b := NewBroadcaster(4)
	first, err := b.Subscribe(1)
	require.NoError(t, err)
	second, err := b.Subscribe(1)
	require.NoError(t, err)
	other, err := b.Subscribe(2)
	require.NoError(t, err)
	assert.NotEqual(t, first.Id, second.Id)
	assert.Equal(t, 3, b.Subscribers())

	b.Publish(1, event(10))

	assert.Equal(t, event(10), <-first.Events())
	assert.Equal(t, event(10), <-second.Events())
	select {
	case e := <-other.Events():
		t.Fatalf("user 2 received %v", e)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewBroadcaster(2)
	s, err := b.Subscribe(1)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 5; i++ {
			b.Publish(1, event(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked")
	}

	assert.Equal(t, uint64(3), b.Dropped())
	assert.Equal(t, int64(0), (<-s.Events()).MessageId)
	assert.Equal(t, int64(1), (<-s.Events()).MessageId)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster(0)
	b.Publish(42, event(1))
	assert.Zero(t, b.Dropped())
}

func TestSubscriptionClose(t *testing.T) {
	b := NewBroadcaster(1)
	s, err := b.Subscribe(1)
	require.NoError(t, err)

	s.Close()
	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers())

	s.Close()
	b.Publish(1, event(1))
}

func TestClose(t *testing.T) {
	b := NewBroadcaster(1)
	subs := []*Subscription{}
	for u := int64(1); u <= 3; u++ {
		s, err := b.Subscribe(u)
		require.NoError(t, err)
		subs = append(subs, s)
	}

	b.Close()
	for _, s := range subs {
		_, ok := <-s.Events()
		assert.False(t, ok)
		s.Close()
	}

	_, err := b.Subscribe(1)
	assert.ErrorIs(t, err, ErrClosed)
	b.Publish(1, event(1))
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewBroadcaster(1)
	var wg sync.WaitGroup
	for u := int64(0); u < 8; u++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s, err := b.Subscribe(u)
				if err != nil {
					return
				}
				s.Close()
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Publish(u, event(int64(i)))
			}
		}()
	}
	wg.Wait()
	b.Close()
	assert.Zero(t, b.Subscribers())
}
