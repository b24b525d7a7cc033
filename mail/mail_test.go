// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"os"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readTestMail(t *testing.T, name string) []byte {
	rawMail, err := os.ReadFile(path.Join("testdata", name))
	require.NoError(t, err)
	return rawMail
}

func TestParse(t *testing.T) {
	parsed, err := Parse(readTestMail(t, "multipart.msg"))
	require.NoError(t, err)

	assert.Equal(t, "<abc123@example.org>", parsed.MessageId)
	assert.Equal(t, "Passwort läuft ab", parsed.Subject)
	assert.Equal(t, "support@example.org", parsed.Sender)
	assert.Equal(t, []string{"student@school.edu", "other@school.edu"}, parsed.Recipients)
	assert.Equal(t, 2025, parsed.Date.Year())
	assert.Contains(t, parsed.TextBody, "https://example.org/login")
	assert.Contains(t, parsed.HtmlBody, `<a href="https://example.org/login">`)
	assert.Equal(t, "<abc123@example.org>", parsed.Headers["Message-Id"])
	assert.NotContains(t, parsed.Headers, "Cc")
}

func TestParseFallbackMessageId(t *testing.T) {
	raw := readTestMail(t, "noid.msg")

	first, err := Parse(raw)
	require.NoError(t, err)
	second, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, first.MessageId, second.MessageId)
	assert.True(t, strings.HasPrefix(first.MessageId, "<"))
	assert.True(t, strings.HasSuffix(first.MessageId, "@phishguard.invalid>"))
	assert.Equal(t, "Just text.", strings.TrimSpace(first.TextBody))

	other, err := Parse([]byte(strings.Replace(string(raw), "No id here", "Different subject", 1)))
	require.NoError(t, err)
	assert.NotEqual(t, first.MessageId, other.MessageId)
}

func TestParseGarbage(t *testing.T) {
	_, err := Parse([]byte("no header colon\r\n\r\nbody"))
	assert.Error(t, err)
}

func TestCompose(t *testing.T) {
	raw, err := Compose(
		"Verify your account",
		"alert@example.org",
		map[string]string{"Reply-To": "other@example.net", "Content-Type": "text/plain"},
		"click https://example.org",
		`<a href="https://example.org">here</a>`,
	)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Verify your account", parsed.Subject)
	assert.Equal(t, "alert@example.org", parsed.Sender)
	assert.Equal(t, "other@example.net", parsed.Headers["Reply-To"])
	assert.Equal(t, "click https://example.org", parsed.TextBody)
	assert.Equal(t, `<a href="https://example.org">here</a>`, parsed.HtmlBody)
}

func TestComposeTextOnly(t *testing.T) {
	raw, err := Compose("s", "", nil, "body", "")
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "body", parsed.TextBody)
	assert.Empty(t, parsed.HtmlBody)
	assert.Empty(t, parsed.Sender)
}

func TestDomain(t *testing.T) {
	tests := []struct {
		address string
		domain  string
	}{
		{"user@Example.COM", "example.com"},
		{"a@b@qq.com", "qq.com"},
		{"<x@mail.qq.com>", "mail.qq.com"},
		{"nodomain", ""},
	}
	for _, tc := range tests {
		t.Run(tc.address, func(t *testing.T) {
			assert.Equal(t, tc.domain, Domain(tc.address))
		})
	}
}

func TestShortSubject(t *testing.T) {
	assert.Equal(t, "short", ShortSubject("short"))
	assert.Equal(t, strings.Repeat("a", 30)+"...", ShortSubject(strings.Repeat("a", 40)))
}
