// SPDX-License-Identifier: GPL-3.0-or-later
package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/log"

	"github.com/sirupsen/logrus"
)

// Model is one loaded scoring artifact. A Model is never mutated after Load
// returned it, so it may be used by any number of goroutines.
type Model interface {
	Score(ctx context.Context, in domain.ScoreInput) (float64, error)
}

// Loader produces a fresh Model for a backend.
type Loader interface {
	Backend() string
	Load(ctx context.Context) (Model, string, error)
}

type snapshot struct {
	model Model
	info  domain.ModelInfo
}

// Scorer serves the active model and swaps it atomically on Reload. Scoring
// never waits for a reload in progress.
type Scorer struct {
	l             *logrus.Logger
	loader        Loader
	reloadTimeout time.Duration

	reloadLock sync.Mutex
	current    atomic.Pointer[snapshot]
}

func NewScorer(loader Loader, reloadTimeout time.Duration) *Scorer {
	return &Scorer{
		l:             log.Logger(log.LOG_SCORER),
		loader:        loader,
		reloadTimeout: reloadTimeout,
	}
}

// Score uses the model that is active when the call starts, the result names
// that model even if a reload finishes meanwhile.
func (s *Scorer) Score(ctx context.Context, in domain.ScoreInput) (domain.ScoreResult, error) {
	snap := s.current.Load()
	if snap == nil {
		return domain.ScoreResult{}, fmt.Errorf("no model loaded: %w", domain.ErrScorerUnavailable)
	}

	p, err := snap.model.Score(ctx, in)
	if err != nil {
		if errors.Is(err, domain.ErrScorerUnavailable) {
			return domain.ScoreResult{}, err
		}
		return domain.ScoreResult{}, fmt.Errorf("could not score with %s: %w: %w", snap.info.Version, domain.ErrScorerUnavailable, err)
	}
	if math.IsNaN(p) {
		return domain.ScoreResult{}, fmt.Errorf("model %s returned NaN: %w", snap.info.Version, domain.ErrScorerUnavailable)
	}

	return domain.ScoreResult{Probability: Clamp(p), Version: snap.info.Version}, nil
}

// ModelInfo describes the active model, the zero value before the first
// successful load.
func (s *Scorer) ModelInfo() domain.ModelInfo {
	snap := s.current.Load()
	if snap == nil {
		return domain.ModelInfo{Backend: s.loader.Backend()}
	}
	return snap.info
}

// Reload loads a new model and makes it active. On failure the previous model
// stays in place.
func (s *Scorer) Reload(ctx context.Context) error {
	s.reloadLock.Lock()
	defer s.reloadLock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.reloadTimeout)
	defer cancel()

	model, version, err := s.loader.Load(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		s.l.WithFields(logrus.Fields{"backend": s.loader.Backend(), "active": s.ModelInfo().Version, "error": err}).Error("Model reload failed")
		return fmt.Errorf("could not load %s model: %w: %w", s.loader.Backend(), domain.ErrModelReload, err)
	}

	info := domain.ModelInfo{
		Version:  version,
		Backend:  s.loader.Backend(),
		LoadedAt: time.Now(),
	}
	previous := s.current.Swap(&snapshot{model: model, info: info})

	fields := logrus.Fields{"backend": info.Backend, "version": info.Version}
	if previous != nil {
		fields["previous"] = previous.info.Version
	}
	s.l.WithFields(fields).Info("Activated model")
	return nil
}

func Clamp(p float64) float64 {
	return math.Max(0, math.Min(1, p))
}

func Logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
