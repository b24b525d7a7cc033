// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

//go:generate mockgen -destination=mocks/classifier.go -package=mocks . Classifier,Scorer,Enqueuer,Credentials

type WhitelistScope string

const (
	ScopeUrl    = WhitelistScope("URL")
	ScopeSender = WhitelistScope("SENDER")
)

type MatchType string

const (
	MatchExact   = MatchType("EXACT")
	MatchSuffix  = MatchType("SUFFIX")
	MatchKeyword = MatchType("KEYWORD")
)

// ParseMatchType accepts both the internal names and the administrative
// DOMAIN, DOMAIN-SUFFIX and DOMAIN-KEYWORD spellings.
func ParseMatchType(s string) (MatchType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EXACT", "DOMAIN":
		return MatchExact, nil
	case "SUFFIX", "DOMAIN-SUFFIX":
		return MatchSuffix, nil
	case "KEYWORD", "DOMAIN-KEYWORD":
		return MatchKeyword, nil
	}
	return "", fmt.Errorf("unknown whitelist match type %q", s)
}

func ParseScope(s string) (WhitelistScope, error) {
	switch sc := WhitelistScope(strings.ToUpper(strings.TrimSpace(s))); sc {
	case ScopeUrl, ScopeSender:
		return sc, nil
	}
	return "", fmt.Errorf("unknown whitelist scope %q", s)
}

type WhitelistRule struct {
	Scope WhitelistScope
	Match MatchType
	Value string
}

type Classifier interface {
	Classify(ctx context.Context, m *Message) (Classification, error)
}

type ScoreInput struct {
	Subject  string
	Sender   string
	TextBody string
	HtmlBody string
	Headers  map[string]string
}

type ModelInfo struct {
	Version  string    `json:"version"`
	Backend  string    `json:"backend"`
	LoadedAt time.Time `json:"loaded_at"`
}

// ScoreResult is a phishing probability in [0,1] and the version of the
// model that produced it.
type ScoreResult struct {
	Probability float64
	Version     string
}

type Scorer interface {
	Score(ctx context.Context, in ScoreInput) (ScoreResult, error)
	ModelInfo() ModelInfo
	Reload(ctx context.Context) error
}

type Enqueuer interface {
	Enqueue(messageId int64) bool
}

// Credentials supplies the decrypted IMAP password of an account.
type Credentials interface {
	Password(ctx context.Context, account *Account) (string, error)
}
