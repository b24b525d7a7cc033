// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/imap.go -package=mocks . ImapConnector,ImapDialer

type RemoteMailbox struct {
	Name      string
	Delimiter string
	NoSelect  bool
}

type MailboxStatus struct {
	Name        string
	UidValidity uint32
	UidNext     uint32
	Messages    uint32
}

type RawImapMail struct {
	Uid          uint32
	Flags        Flags
	Size         uint32
	InternalDate time.Time
	RawMail      []byte
}

// ImapConnector is one authenticated IMAP session.
type ImapConnector interface {
	ListMailboxes(ctx context.Context) ([]RemoteMailbox, error)
	Select(ctx context.Context, name string) (*MailboxStatus, error)
	// UidsAbove returns the UIDs of the selected mailbox strictly greater
	// than uid in ascending order.
	UidsAbove(ctx context.Context, uid uint32) ([]uint32, error)
	FetchMails(ctx context.Context, uids []uint32) ([]*RawImapMail, error)
	Close() error
}

type ImapDialer interface {
	Dial(ctx context.Context, account *Account, password string) (ImapConnector, error)
}
