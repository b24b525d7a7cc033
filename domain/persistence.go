// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"context"
	"iter"
	"time"
)

//go:generate mockgen -destination=mocks/persistence.go -package=mocks . SyncStore,ClassificationStore,WhitelistSource,SettingsStore

// SyncStore is the part of the mail store the synchronizer writes to.
type SyncStore interface {
	ActiveAccounts(ctx context.Context) ([]*Account, error)
	Account(ctx context.Context, id int64) (*Account, error)
	TouchAccountSync(ctx context.Context, accountId int64, at time.Time) error
	UpsertMailbox(ctx context.Context, accountId int64, name, delimiter string) (*Mailbox, error)
	ResetMailbox(ctx context.Context, mailboxId int64, uidValidity uint32) error
	// UpsertMessages stores one page atomically and advances the mailbox
	// last_uid to the highest uid of the page.
	UpsertMessages(ctx context.Context, mailboxId int64, metas []MessageMeta) ([]UpsertResult, error)
}

// ClassificationStore is the part of the mail store the orchestrator uses.
type ClassificationStore interface {
	Message(ctx context.Context, id int64) (*Message, error)
	UpdateClassification(ctx context.Context, messageId int64, c Classification) error
	// MarkFailed sets status FAILED and keeps level and score.
	MarkFailed(ctx context.Context, messageId int64, reason string) error
	// ResetClassification sets status PENDING on all messages matching the
	// filter and returns the highest affected id.
	ResetClassification(ctx context.Context, filter MessageFilter) (int64, error)
	ListMessages(ctx context.Context, filter MessageFilter) iter.Seq2[*Message, error]
}

type WhitelistSource interface {
	WhitelistRules(ctx context.Context) ([]WhitelistRule, error)
}

type Settings struct {
	LongUrlDetection bool `json:"long_url_detection"`
}

type SettingsStore interface {
	Settings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}
