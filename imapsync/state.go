// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

type State string

const (
	StateIdle          = State("IDLE")
	StateConnecting    = State("CONNECTING")
	StateAuthenticated = State("AUTHENTICATED")
	StateListing       = State("LISTING_MAILBOXES")
	StateSyncing       = State("SYNCING_MAILBOX")
	StateError         = State("ERROR")
)

type AccountState struct {
	AccountId int64     `json:"account_id"`
	Address   string    `json:"address"`
	State     State     `json:"state"`
	Mailbox   string    `json:"mailbox,omitempty"`
	Error     string    `json:"error,omitempty"`
	Since     time.Time `json:"since"`
}

type states struct {
	lock     sync.Mutex
	accounts map[int64]AccountState
}

func newStates() *states {
	return &states{accounts: map[int64]AccountState{}}
}

func (s *states) set(accountId int64, address string, state State, mailbox string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.accounts[accountId] = AccountState{
		AccountId: accountId,
		Address:   address,
		State:     state,
		Mailbox:   mailbox,
		Since:     time.Now(),
	}
}

func (s *states) fail(accountId int64, address string, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.accounts[accountId] = AccountState{
		AccountId: accountId,
		Address:   address,
		State:     StateError,
		Error:     err.Error(),
		Since:     time.Now(),
	}
}

func (s *states) get(accountId int64) (AccountState, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	state, ok := s.accounts[accountId]
	return state, ok
}

func (s *states) all() []AccountState {
	s.lock.Lock()
	defer s.lock.Unlock()
	all := make([]AccountState, 0, len(s.accounts))
	for _, state := range s.accounts {
		all = append(all, state)
	}
	slices.SortFunc(all, func(a, b AccountState) int {
		return cmp.Compare(a.AccountId, b.AccountId)
	})
	return all
}
