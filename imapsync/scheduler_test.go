// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	accounts []*domain.Account
}

func (f *fakeAccounts) ActiveAccounts(context.Context) ([]*domain.Account, error) {
	return f.accounts, nil
}

func (f *fakeAccounts) Account(_ context.Context, id int64) (*domain.Account, error) {
	for _, a := range f.accounts {
		if a.Id == id {
			return a, nil
		}
	}
	return nil, domain.ErrNotFound
}

type blockingSyncer struct {
	release chan struct{}

	lock    sync.Mutex
	synced  map[int64]int
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newBlockingSyncer() *blockingSyncer {
	return &blockingSyncer{release: make(chan struct{}), synced: map[int64]int{}}
}

func (b *blockingSyncer) SyncAccount(ctx context.Context, account *domain.Account) error {
	active := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		seen := b.maxSeen.Load()
		if active <= seen || b.maxSeen.CompareAndSwap(seen, active) {
			break
		}
	}

	select {
	case <-b.release:
	case <-ctx.Done():
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.synced[account.Id]++
	return nil
}

func (b *blockingSyncer) States() []AccountState {
	return nil
}

func (b *blockingSyncer) count(accountId int64) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.synced[accountId]
}

func accounts(n int) *fakeAccounts {
	f := &fakeAccounts{}
	for i := 1; i <= n; i++ {
		f.accounts = append(f.accounts, &domain.Account{Id: int64(i), Address: "a@example.org", Active: true})
	}
	return f
}

func TestRunOnceRespectsLimit(t *testing.T) {
	log.InitLogging("error")
	syncer := newBlockingSyncer()
	s := NewScheduler(syncer, accounts(5), time.Hour, 2)

	done := make(chan error)
	go func() {
		done <- s.RunOnce(context.Background())
	}()

	require.Eventually(t, func() bool { return syncer.active.Load() == 2 }, time.Second, time.Millisecond)
	close(syncer.release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(2), syncer.maxSeen.Load())
	for id := int64(1); id <= 5; id++ {
		assert.Equal(t, 1, syncer.count(id))
	}
	assert.Zero(t, s.Running())
}

func TestRunOnceSkipsRunningAccounts(t *testing.T) {
	log.InitLogging("error")
	syncer := newBlockingSyncer()
	s := NewScheduler(syncer, accounts(1), time.Hour, 2)

	first := make(chan error)
	go func() {
		first <- s.RunOnce(context.Background())
	}()
	require.Eventually(t, func() bool { return syncer.active.Load() == 1 }, time.Second, time.Millisecond)

	// a second round while the first cycle still runs does nothing
	require.NoError(t, s.RunOnce(context.Background()))

	close(syncer.release)
	require.NoError(t, <-first)
	assert.Equal(t, 1, syncer.count(1))
}

func TestTrigger(t *testing.T) {
	log.InitLogging("error")
	syncer := newBlockingSyncer()
	s := NewScheduler(syncer, accounts(1), time.Hour, 2)

	assert.ErrorIs(t, s.Trigger(context.Background(), 1), ErrNotRunning)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	// the immediate first round holds the account
	require.Eventually(t, func() bool { return syncer.active.Load() == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Trigger(context.Background(), 1), ErrAlreadyRunning)
	assert.ErrorIs(t, s.Trigger(context.Background(), 42), domain.ErrNotFound)

	close(syncer.release)
	require.Eventually(t, func() bool { return s.Running() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, s.Trigger(context.Background(), 1))
	require.Eventually(t, func() bool { return syncer.count(1) == 2 }, time.Second, time.Millisecond)

	cancel()
	<-stopped
}

type countingSyncer struct {
	synced atomic.Int32
	active atomic.Int32
}

func (c *countingSyncer) SyncAccount(ctx context.Context, account *domain.Account) error {
	c.active.Add(1)
	defer c.active.Add(-1)
	time.Sleep(time.Millisecond)
	c.synced.Add(1)
	return nil
}

func (c *countingSyncer) States() []AccountState {
	return nil
}

func TestRunWaitsForTriggeredSyncs(t *testing.T) {
	log.InitLogging("error")
	syncer := &countingSyncer{}
	s := NewScheduler(syncer, accounts(8), time.Hour, 8)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()
	require.Eventually(t, func() bool { return syncer.synced.Load() >= 8 }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for id := int64(1); id <= 8; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.Trigger(context.Background(), id)
			}
		}()
	}
	cancel()
	<-stopped

	// every cycle accepted before Run returned has finished
	assert.Zero(t, syncer.active.Load())
	wg.Wait()
	assert.ErrorIs(t, s.Trigger(context.Background(), 1), ErrNotRunning)
	assert.Zero(t, syncer.active.Load())
}
