// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "time"

type Account struct {
	Id            int64
	UserId        int64
	Address       string
	Host          string
	Port          int
	TLS           bool
	Username      string
	CredentialRef string
	Active        bool
	LastSyncAt    *time.Time
}

// Login returns the IMAP login name, which defaults to the address.
func (a *Account) Login() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Address
}

type Mailbox struct {
	Id          int64
	AccountId   int64
	Name        string
	Delimiter   string
	UidValidity uint32
	LastUid     uint32
}
