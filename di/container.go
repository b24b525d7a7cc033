// SPDX-License-Identifier: GPL-3.0-or-later
package di

import (
	"fmt"

	"github.com/CrawX/go-imap-phishguard/api"
	"github.com/CrawX/go-imap-phishguard/broadcaster"
	"github.com/CrawX/go-imap-phishguard/classifier"
	"github.com/CrawX/go-imap-phishguard/classifier/scorer"
	"github.com/CrawX/go-imap-phishguard/classifier/scorer/linear"
	"github.com/CrawX/go-imap-phishguard/classifier/scorer/openai"
	"github.com/CrawX/go-imap-phishguard/classifier/scorer/rspamd"
	"github.com/CrawX/go-imap-phishguard/classifier/scorer/spamassassin"
	"github.com/CrawX/go-imap-phishguard/config"
	"github.com/CrawX/go-imap-phishguard/credentials"
	"github.com/CrawX/go-imap-phishguard/imapconnection"
	"github.com/CrawX/go-imap-phishguard/imapsync"
	"github.com/CrawX/go-imap-phishguard/metrics"
	"github.com/CrawX/go-imap-phishguard/orchestrator"
	"github.com/CrawX/go-imap-phishguard/persistence"

	"go.uber.org/dig"
)

// BuildContainer registers every component of the service. Nothing is
// constructed until the container is invoked.
func BuildContainer(conf *config.Config) (*dig.Container, error) {
	container := dig.New()

	providers := []any{
		func() *config.Config { return conf },
		func(c *config.Config) (*persistence.Persistence, error) {
			return persistence.NewPersistence(c.Database)
		},
		func(c *config.Config) (*credentials.Keyring, error) {
			return credentials.NewKeyring(c.Credentials.Backends, c.Credentials.FileDir, c.Credentials.FilePassword)
		},
		func(c *config.Config) *imapconnection.Dialer {
			return imapconnection.NewDialer(c.Sync.DialTimeout, c.Sync.OperationTimeout)
		},
		NewLoader,
		func(loader scorer.Loader, c *config.Config) *scorer.Scorer {
			return scorer.NewScorer(loader, c.Scorer.ReloadTimeout)
		},
		newClassifier,
		metrics.NewMetrics,
		func(m *metrics.Metrics) *broadcaster.Broadcaster {
			b := broadcaster.NewBroadcaster(broadcaster.DefaultBuffer)
			m.Broadcaster(b.Subscribers, b.Dropped)
			return b
		},
		newOrchestrator,
		newSynchronizer,
		func(s *imapsync.Synchronizer, p *persistence.Persistence, m *metrics.Metrics, c *config.Config) *imapsync.Scheduler {
			scheduler := imapsync.NewScheduler(m.Syncer(s), p, c.Sync.Interval, c.Sync.MaxConcurrentAccounts)
			m.Scheduler(scheduler.Running)
			return scheduler
		},
		newServer,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, fmt.Errorf("could not register provider: %w", err)
		}
	}

	return container, nil
}

// NewLoader picks the model loader for the configured scoring backend.
func NewLoader(c *config.Config) (scorer.Loader, error) {
	s := c.Scorer
	switch s.Backend {
	case config.BackendLinear:
		return linear.NewLoader(s.ModelPath, s.FeatureDimension), nil
	case config.BackendSpamassassin:
		return spamassassin.NewLoader(s.SpamassassinHost, s.SpamThreshold, s.ScoreScale), nil
	case config.BackendRspamd:
		return rspamd.NewLoader(s.RspamdController, s.RspamdPassword, s.ScoreScale), nil
	case config.BackendOpenAI:
		return openai.NewLoader(s.OpenAIKey, s.OpenAIModel, s.OpenAIBaseURL), nil
	}
	return nil, fmt.Errorf("unknown scoring backend %q", s.Backend)
}

func newClassifier(s *scorer.Scorer, p *persistence.Persistence, c *config.Config) *classifier.Composite {
	options := classifier.Options{
		SuspiciousThreshold: c.Detection.SuspiciousThreshold,
		HighRiskThreshold:   c.Detection.HighRiskThreshold,
		HighRiskUrlLength:   c.Detection.HighRiskUrlLength,
		SuspiciousUrlLength: c.Detection.SuspiciousUrlLength,
	}
	return classifier.NewComposite(s, p, options, p, classifier.StaticRules(c.WhitelistRules()))
}

func newOrchestrator(p *persistence.Persistence, cl *classifier.Composite, b *broadcaster.Broadcaster, m *metrics.Metrics, c *config.Config) *orchestrator.Orchestrator {
	o := orchestrator.NewOrchestrator(p, cl, m.Publisher(b), orchestrator.Options{
		Workers:      c.Detection.Workers,
		MaxAttempts:  c.Detection.MaxAttempts,
		RetryBackoff: c.Detection.RetryBackoff,
	})
	m.Orchestrator(o.Stats)
	return o
}

func newSynchronizer(p *persistence.Persistence, d *imapconnection.Dialer, k *credentials.Keyring, o *orchestrator.Orchestrator, c *config.Config) (*imapsync.Synchronizer, error) {
	configs := []imapsync.ConfigFunc{
		imapsync.PageSize(c.Sync.PageSize),
		imapsync.MaxPages(c.Sync.MaxPagesPerMailbox),
		imapsync.InitialWindow(c.Sync.InitialWindow),
		imapsync.OperationTimeout(c.Sync.OperationTimeout),
		imapsync.Retry(c.Sync.MaxAttempts, c.Sync.BackoffBase, c.Sync.BackoffMax),
	}
	return imapsync.NewSynchronizer(p, d, k, o, configs...)
}

func newServer(p *persistence.Persistence, o *orchestrator.Orchestrator, s *scorer.Scorer, sched *imapsync.Scheduler, b *broadcaster.Broadcaster, k *credentials.Keyring, m *metrics.Metrics, c *config.Config) *api.Server {
	return api.NewServer(p, o, s, sched, b, api.NewStaticTokens(c.Users), k, m.Handler())
}
