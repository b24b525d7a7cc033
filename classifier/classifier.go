// SPDX-License-Identifier: GPL-3.0-or-later
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/CrawX/go-imap-phishguard/classifier/rules"
	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/log"
	"github.com/CrawX/go-imap-phishguard/mail"

	"github.com/sirupsen/logrus"
)

type Options struct {
	SuspiciousThreshold float64
	HighRiskThreshold   float64
	HighRiskUrlLength   int
	SuspiciousUrlLength int
}

// Composite combines whitelist, link rules and the learned scorer into one
// verdict.
type Composite struct {
	l          *logrus.Logger
	scorer     domain.Scorer
	settings   domain.SettingsStore
	whitelists []domain.WhitelistSource
	options    Options
	now        func() time.Time
}

func NewComposite(scorer domain.Scorer, settings domain.SettingsStore, options Options, whitelists ...domain.WhitelistSource) *Composite {
	return &Composite{
		l:          log.Logger(log.LOG_CLASSIFIER),
		scorer:     scorer,
		settings:   settings,
		whitelists: whitelists,
		options:    options,
		now:        time.Now,
	}
}

// MlLevel maps a scorer probability onto a level.
func (c *Composite) MlLevel(p float64) domain.Level {
	switch {
	case p >= c.options.HighRiskThreshold:
		return domain.LevelHighRisk
	case p >= c.options.SuspiciousThreshold:
		return domain.LevelSuspicious
	}
	return domain.LevelNormal
}

func (c *Composite) Classify(ctx context.Context, m *domain.Message) (domain.Classification, error) {
	whitelist := []domain.WhitelistRule{}
	for _, source := range c.whitelists {
		sourceRules, err := source.WhitelistRules(ctx)
		if err != nil {
			return domain.Classification{}, fmt.Errorf("could not read whitelist: %w", err)
		}
		whitelist = append(whitelist, sourceRules...)
	}

	links := rules.ExtractLinks(m.TextBody, m.HtmlBody)
	if reason, ok := whitelisted(whitelist, mail.Domain(m.Sender), links); ok {
		c.l.WithFields(logrus.Fields{"message": m.Id, "reason": reason}).Debug("Whitelisted")
		return c.completed(domain.LevelNormal, 0, reason), nil
	}

	settings, err := c.settings.Settings(ctx)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("could not read settings: %w", err)
	}
	verdict := rules.EvaluateLinks(links, rules.Options{
		LongUrlDetection:    settings.LongUrlDetection,
		HighRiskUrlLength:   c.options.HighRiskUrlLength,
		SuspiciousUrlLength: c.options.SuspiciousUrlLength,
		SuspiciousScore:     c.options.SuspiciousThreshold,
	})

	scored, err := c.scorer.Score(ctx, domain.ScoreInput{
		Subject:  m.Subject,
		Sender:   m.Sender,
		TextBody: m.TextBody,
		HtmlBody: m.HtmlBody,
		Headers:  m.Headers,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrScorerUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrScorerUnavailable, err)
		}
		return domain.Classification{}, fmt.Errorf("could not score message %d: %w", m.Id, err)
	}
	p := scored.Probability
	mlLevel := c.MlLevel(p)

	level := domain.MoreSevere(verdict.Level, mlLevel)
	score := math.Max(verdict.Score, p)

	reasons := []string{}
	if verdict.Level == level {
		if len(verdict.Reasons) > 0 {
			reasons = append(reasons, "rules: "+strings.Join(verdict.Reasons, "; "))
		} else {
			reasons = append(reasons, "rules: no findings")
		}
	}
	if mlLevel == level {
		reasons = append(reasons, fmt.Sprintf("model %s: probability %.2f", scored.Version, p))
	}

	c.l.WithFields(logrus.Fields{
		"message":    m.Id,
		"subject":    mail.ShortSubject(m.Subject),
		"rule_level": verdict.Level,
		"ml_score":   p,
		"level":      level,
	}).Debug("Classified")

	return c.completed(level, score, strings.Join(reasons, " | ")), nil
}

func (c *Composite) completed(level domain.Level, score float64, reason string) domain.Classification {
	now := c.now()
	return domain.Classification{
		Status:       domain.StatusCompleted,
		Level:        level,
		Score:        score,
		Reason:       reason,
		ClassifiedAt: &now,
	}
}
