// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"strconv"
	"strings"

	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/sirupsen/logrus"
)

const settingLongUrlDetection = "long_url_detection"

// WhitelistRules reads the administratively managed rules. Rows that cannot
// be parsed are skipped with a warning.
func (p *Persistence) WhitelistRules(ctx context.Context) ([]domain.WhitelistRule, error) {
	rows := []struct {
		Scope     string `db:"scope"`
		MatchType string `db:"match_type"`
		Value     string `db:"value"`
	}{}
	err := p.db.SelectContext(ctx, &rows, `SELECT scope, match_type, value FROM whitelist_rules ORDER BY id`)
	if err != nil {
		return nil, storeErr("could not query db", err)
	}

	rules := make([]domain.WhitelistRule, 0, len(rows))
	for _, r := range rows {
		scope, err := domain.ParseScope(r.Scope)
		if err != nil {
			p.l.WithFields(logrus.Fields{"rule": r, "error": err}).Warn("Skipping whitelist rule")
			continue
		}
		match, err := domain.ParseMatchType(r.MatchType)
		if err != nil {
			p.l.WithFields(logrus.Fields{"rule": r, "error": err}).Warn("Skipping whitelist rule")
			continue
		}
		rules = append(rules, domain.WhitelistRule{Scope: scope, Match: match, Value: strings.ToLower(strings.TrimSpace(r.Value))})
	}

	return rules, nil
}

func (p *Persistence) AddWhitelistRule(ctx context.Context, rule domain.WhitelistRule) error {
	_, err := p.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO whitelist_rules (scope, match_type, value) VALUES (?, ?, ?)`,
		string(rule.Scope), string(rule.Match), rule.Value,
	)
	if err != nil {
		return storeErr("could not save whitelist rule", err)
	}
	return nil
}

func (p *Persistence) Settings(ctx context.Context) (domain.Settings, error) {
	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	err := p.db.SelectContext(ctx, &rows, `SELECT key, value FROM settings`)
	if err != nil {
		return domain.Settings{}, storeErr("could not query db", err)
	}

	settings := domain.Settings{LongUrlDetection: true}
	for _, r := range rows {
		switch r.Key {
		case settingLongUrlDetection:
			enabled, err := strconv.ParseBool(r.Value)
			if err != nil {
				p.l.WithFields(logrus.Fields{"key": r.Key, "value": r.Value}).Warn("Ignoring malformed setting")
				continue
			}
			settings.LongUrlDetection = enabled
		}
	}
	return settings, nil
}

func (p *Persistence) SaveSettings(ctx context.Context, s domain.Settings) error {
	_, err := p.db.ExecContext(
		ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		settingLongUrlDetection, strconv.FormatBool(s.LongUrlDetection),
	)
	if err != nil {
		return storeErr("could not save settings", err)
	}

	p.l.WithField("long_url_detection", s.LongUrlDetection).Info("Persisted settings")
	return nil
}
