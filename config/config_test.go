// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
Database = "test.db"

[Sync]
Interval = "1m"

[[Whitelist]]
Scope = "sender"
Match = "DOMAIN-SUFFIX"
Value = "QQ.com"

[[Users]]
Token = "secret"
UserId = 7
StudentId = "s-7"
`)

	c, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "test.db", c.Database)
	assert.Equal(t, time.Minute, c.Sync.Interval)
	assert.Equal(t, 20, c.Sync.PageSize)
	assert.Equal(t, 0.6, c.Detection.SuspiciousThreshold)
	assert.Equal(t, 0.8, c.Detection.HighRiskThreshold)
	assert.Equal(t, []domain.WhitelistRule{{Scope: domain.ScopeSender, Match: domain.MatchSuffix, Value: "qq.com"}}, c.WhitelistRules())
	assert.Equal(t, int64(7), c.Users[0].UserId)
}

func TestReadConfig_Environment(t *testing.T) {
	path := writeConfig(t, `Database = "test.db"`)
	t.Setenv("PHISHGUARD_SYNC_PAGE_SIZE", "5")
	t.Setenv("PHISHGUARD_DETECTION_HIGH_RISK_THRESHOLD", "0.9")

	c, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Sync.PageSize)
	assert.Equal(t, 0.9, c.Detection.HighRiskThreshold)
}

func TestReadConfig_Accounts(t *testing.T) {
	path := writeConfig(t, `
[[Accounts]]
UserId = 7
Address = "student@example.com"
Host = "imap.example.com"
TLS = true

[[Accounts]]
UserId = 8
Address = "paused@example.com"
Host = "imap.example.com"
Active = false
`)

	c, err := ReadConfig(path)
	require.NoError(t, err)
	require.Len(t, c.Accounts, 2)

	assert.Equal(t, domain.Account{UserId: 7, Address: "student@example.com", Host: "imap.example.com", TLS: true, Active: true}, c.Accounts[0].Account())
	assert.False(t, c.Accounts[1].Account().Active)
}

func TestReadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     string
	}{
		{"thresholds", "[Detection]\nSuspiciousThreshold = 0.9\nHighRiskThreshold = 0.8", "thresholds must satisfy 0 < SuspiciousThreshold < HighRiskThreshold <= 1, got 0.9 and 0.8"},
		{"pagesize", "[Sync]\nPageSize = 0", "Sync.PageSize must be positive"},
		{"backend", "[Scorer]\nBackend = \"magic\"", `unknown Scorer.Backend "magic", use one of linear, spamassassin, rspamd, openai`},
		{"rspamd", "[Scorer]\nBackend = \"rspamd\"\nRspamdController = \"http://localhost:11334\"", "Scorer.RspamdPassword must be set if RspamdController is set"},
		{"whitelist", "[[Whitelist]]\nScope = \"URL\"\nMatch = \"regex\"\nValue = \"x\"", `invalid whitelist rule: unknown whitelist match type "regex"`},
		{"account", "[[Accounts]]\nAddress = \"a@example.com\"", "Accounts.Host of a@example.com must not be empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := ReadConfig(writeConfig(t, tc.content))
			assert.Nil(t, c)
			assert.EqualError(t, err, tc.err)
		})
	}
}

func TestReadConfig_MissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
