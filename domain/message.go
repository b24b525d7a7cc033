// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"fmt"
	"strings"
	"time"
)

type Level string

const (
	LevelNormal     = Level("NORMAL")
	LevelSuspicious = Level("SUSPICIOUS")
	LevelHighRisk   = Level("HIGH_RISK")
)

func (l Level) Severity() int {
	switch l {
	case LevelHighRisk:
		return 2
	case LevelSuspicious:
		return 1
	}
	return 0
}

// MoreSevere returns the more severe of both levels, a on ties.
func MoreSevere(a, b Level) Level {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelNormal, LevelSuspicious, LevelHighRisk:
		return l, nil
	}
	return "", fmt.Errorf("unknown level %q", s)
}

type Status string

const (
	StatusPending   = Status("PENDING")
	StatusCompleted = Status("COMPLETED")
	StatusFailed    = Status("FAILED")
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

type Classification struct {
	Status       Status
	Level        Level
	Score        float64
	Reason       string
	ClassifiedAt *time.Time
}

type Flags struct {
	Seen     bool
	Flagged  bool
	Answered bool
	Deleted  bool
	Draft    bool
}

// MessageMeta is what the synchronizer knows about a fetched mail.
type MessageMeta struct {
	Uid        uint32
	MessageId  string
	Subject    string
	Sender     string
	Recipients []string
	Size       uint32
	ReceivedAt time.Time
	Flags      Flags
	TextBody   string
	HtmlBody   string
	Headers    map[string]string
}

type Message struct {
	Id        int64
	AccountId int64
	UserId    int64
	MailboxId int64
	// Uid is nil once the mapping was discarded by a uid validity change.
	Uid *uint32
	MessageMeta
	Classification Classification
}

type UpsertResult struct {
	Message *Message
	IsNew   bool
}

type MessageFilter struct {
	UserId  int64
	Status  Status
	Level   Level
	AfterId int64
	MaxId   int64
	Limit   int
}

type Stats struct {
	Total      int
	Normal     int
	Suspicious int
	HighRisk   int
	Pending    int
	Completed  int
	Failed     int
}
