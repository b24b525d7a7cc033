// SPDX-License-Identifier: GPL-3.0-or-later
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/imapsync"
	"github.com/CrawX/go-imap-phishguard/orchestrator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "phishguard"

type Metrics struct {
	registry *prometheus.Registry

	events *prometheus.CounterVec
	syncs  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of published events by kind and phishing level",
		}, []string{"kind", "level"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_syncs_total",
			Help:      "Total number of account sync cycles by result",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.events,
		m.syncs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Orchestrator exposes queue depths as gauges and the job outcomes as
// counters.
func (m *Metrics) Orchestrator(stats func() orchestrator.Stats) {
	gauge := func(name, help string, value func(orchestrator.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "detection", Name: name, Help: help}, func() float64 {
			return float64(value(stats()))
		})
	}
	counter := func(name, help string, value func(orchestrator.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Subsystem: "detection", Name: name, Help: help}, func() float64 {
			return float64(value(stats()))
		})
	}

	m.registry.MustRegister(
		gauge("live_queue", "Number of queued live jobs", func(s orchestrator.Stats) int { return s.Live }),
		gauge("bulk_queue", "Number of queued bulk jobs", func(s orchestrator.Stats) int { return s.Bulk }),
		gauge("in_flight", "Number of jobs being classified", func(s orchestrator.Stats) int { return s.InFlight }),
		gauge("retrying", "Number of jobs waiting for a retry", func(s orchestrator.Stats) int { return s.Retrying }),
		counter("completed_total", "Total number of classified messages", func(s orchestrator.Stats) uint64 { return s.Completed }),
		counter("failed_total", "Total number of messages marked failed", func(s orchestrator.Stats) uint64 { return s.Failed }),
		counter("skipped_total", "Total number of jobs skipped because the message was not pending", func(s orchestrator.Stats) uint64 { return s.Skipped }),
		counter("retried_total", "Total number of classification retries", func(s orchestrator.Stats) uint64 { return s.Retried }),
	)
}

func (m *Metrics) Broadcaster(subscribers func() int, dropped func() uint64) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "events", Name: "subscribers", Help: "Number of live event subscriptions"}, func() float64 {
			return float64(subscribers())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Subsystem: "events", Name: "dropped_total", Help: "Total number of events dropped for slow subscribers"}, func() float64 {
			return float64(dropped())
		}),
	)
}

func (m *Metrics) Scheduler(running func() int) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "sync", Name: "running", Help: "Number of account syncs in progress"}, func() float64 {
			return float64(running())
		}),
	)
}

type publisher struct {
	next   domain.Publisher
	events *prometheus.CounterVec
}

// Publisher counts every event before handing it to next.
func (m *Metrics) Publisher(next domain.Publisher) domain.Publisher {
	return &publisher{next: next, events: m.events}
}

func (p *publisher) Publish(userId int64, event domain.Event) {
	p.events.WithLabelValues(string(event.Kind), string(event.Level)).Inc()
	p.next.Publish(userId, event)
}

type syncer struct {
	imapsync.AccountSyncer
	syncs *prometheus.CounterVec
}

// Syncer counts the sync cycles of next by result.
func (m *Metrics) Syncer(next imapsync.AccountSyncer) imapsync.AccountSyncer {
	return &syncer{AccountSyncer: next, syncs: m.syncs}
}

func (s *syncer) SyncAccount(ctx context.Context, account *domain.Account) error {
	err := s.AccountSyncer.SyncAccount(ctx, account)
	s.syncs.WithLabelValues(result(err)).Inc()
	return err
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrAuth):
		return "auth"
	case errors.Is(err, domain.ErrTransientNetwork):
		return "transient"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "error"
}
