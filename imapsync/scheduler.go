// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/log"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotRunning     = errors.New("scheduler is not running")
	ErrAlreadyRunning = errors.New("sync already running")
)

type AccountSyncer interface {
	SyncAccount(ctx context.Context, account *domain.Account) error
	States() []AccountState
}

type AccountSource interface {
	ActiveAccounts(ctx context.Context) ([]*domain.Account, error)
	Account(ctx context.Context, id int64) (*domain.Account, error)
}

// Scheduler runs a sync cycle for every active account per interval. Cycles
// of one account never overlap.
type Scheduler struct {
	syncer   AccountSyncer
	accounts AccountSource
	interval time.Duration
	limit    int

	lock    sync.Mutex
	ctx     context.Context
	stopped bool
	running map[int64]struct{}
	wg      sync.WaitGroup

	l *logrus.Logger
}

func NewScheduler(syncer AccountSyncer, accounts AccountSource, interval time.Duration, maxConcurrentAccounts int) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		accounts: accounts,
		interval: interval,
		limit:    maxConcurrentAccounts,
		running:  map[int64]struct{}{},
		l:        log.Logger(log.LOG_SYNC),
	}
}

// Run syncs immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.lock.Lock()
	s.ctx = ctx
	s.stopped = false
	s.lock.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		err := s.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.l.WithFields(logrus.Fields{"error": err}).Error("Could not run sync cycle")
		}

		select {
		case <-ctx.Done():
			// no triggered cycle may be added once waiting starts
			s.lock.Lock()
			s.stopped = true
			s.lock.Unlock()
			s.wg.Wait()
			s.l.Info("Stopped scheduler")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce syncs all active accounts with at most maxConcurrentAccounts in
// parallel. Accounts with a cycle in progress are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	accounts, err := s.accounts.ActiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("could not list active accounts: %w", err)
	}

	g := &errgroup.Group{}
	g.SetLimit(s.limit)
	for _, account := range accounts {
		if !s.claim(account.Id) {
			s.l.WithFields(logrus.Fields{"account": account.Address}).Debug("Sync still running, skipping account")
			continue
		}
		g.Go(func() error {
			defer s.release(account.Id)
			// failures are isolated per account and logged by the syncer
			_ = s.syncer.SyncAccount(ctx, account)
			return nil
		})
	}

	return g.Wait()
}

// Trigger starts a cycle for one account outside of the schedule, also for
// accounts whose last login was rejected.
func (s *Scheduler) Trigger(ctx context.Context, accountId int64) error {
	s.lock.Lock()
	runCtx := s.ctx
	s.lock.Unlock()
	if runCtx == nil || runCtx.Err() != nil {
		return ErrNotRunning
	}

	account, err := s.accounts.Account(ctx, accountId)
	if err != nil {
		return fmt.Errorf("could not load account: %w", err)
	}

	s.lock.Lock()
	if s.stopped {
		s.lock.Unlock()
		return ErrNotRunning
	}
	if _, ok := s.running[account.Id]; ok {
		s.lock.Unlock()
		return fmt.Errorf("account %d: %w", account.Id, ErrAlreadyRunning)
	}
	s.running[account.Id] = struct{}{}
	s.wg.Add(1)
	s.lock.Unlock()

	s.l.WithFields(logrus.Fields{"account": account.Address}).Info("Triggered sync")
	go func() {
		defer s.wg.Done()
		defer s.release(account.Id)
		_ = s.syncer.SyncAccount(runCtx, account)
	}()

	return nil
}

func (s *Scheduler) claim(accountId int64) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.running[accountId]; ok {
		return false
	}
	s.running[accountId] = struct{}{}
	return true
}

func (s *Scheduler) release(accountId int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.running, accountId)
}

func (s *Scheduler) Running() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.running)
}

func (s *Scheduler) States() []AccountState {
	return s.syncer.States()
}
