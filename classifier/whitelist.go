// SPDX-License-Identifier: GPL-3.0-or-later
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/CrawX/go-imap-phishguard/classifier/rules"
	"github.com/CrawX/go-imap-phishguard/domain"
)

// StaticRules serves whitelist rules from the configuration file.
type StaticRules []domain.WhitelistRule

func (s StaticRules) WhitelistRules(ctx context.Context) ([]domain.WhitelistRule, error) {
	return s, nil
}

// Matches compares a rule value with a host name, both case-insensitive.
func Matches(rule domain.WhitelistRule, host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	value := strings.ToLower(rule.Value)
	if host == "" || value == "" {
		return false
	}

	switch rule.Match {
	case domain.MatchExact:
		return host == value
	case domain.MatchSuffix:
		return host == value || strings.HasSuffix(host, "."+value)
	case domain.MatchKeyword:
		return strings.Contains(host, value)
	}
	return false
}

func firstMatch(whitelist []domain.WhitelistRule, scope domain.WhitelistScope, host string) (domain.WhitelistRule, bool) {
	for _, rule := range whitelist {
		if rule.Scope == scope && Matches(rule, host) {
			return rule, true
		}
	}
	return domain.WhitelistRule{}, false
}

// whitelisted returns a reason if the sender domain is whitelisted or every
// link leads to a whitelisted host.
func whitelisted(whitelist []domain.WhitelistRule, senderDomain string, links []rules.Link) (string, bool) {
	if rule, ok := firstMatch(whitelist, domain.ScopeSender, senderDomain); ok {
		return fmt.Sprintf("whitelisted sender domain %s (%s %s)", senderDomain, rule.Match, rule.Value), true
	}

	if len(links) == 0 {
		return "", false
	}
	for _, link := range links {
		if _, ok := firstMatch(whitelist, domain.ScopeUrl, link.Host); !ok {
			return "", false
		}
	}
	return fmt.Sprintf("all %d links whitelisted", len(links)), true
}
