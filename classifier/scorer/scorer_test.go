// SPDX-License-Identifier: GPL-3.0-or-later
package scorer

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constModel float64

func (m constModel) Score(ctx context.Context, in domain.ScoreInput) (float64, error) {
	return float64(m), nil
}

type failingModel struct{}

func (failingModel) Score(ctx context.Context, in domain.ScoreInput) (float64, error) {
	return 0, errors.New("backend down")
}

type blockingModel struct{}

func (blockingModel) Score(ctx context.Context, in domain.ScoreInput) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

type result struct {
	model   Model
	version string
	err     error
}

// queueLoader hands out the queued results in order.
type queueLoader struct {
	lock    sync.Mutex
	results []result
	block   chan struct{}
}

func (q *queueLoader) Backend() string { return "test" }

func (q *queueLoader) Load(ctx context.Context) (Model, string, error) {
	if q.block != nil {
		select {
		case <-q.block:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	q.lock.Lock()
	defer q.lock.Unlock()
	r := q.results[0]
	q.results = q.results[1:]
	return r.model, r.version, r.err
}

func TestScoreWithoutModel(t *testing.T) {
	s := NewScorer(&queueLoader{}, time.Second)
	_, err := s.Score(context.Background(), domain.ScoreInput{})
	assert.ErrorIs(t, err, domain.ErrScorerUnavailable)
	assert.Equal(t, domain.ModelInfo{Backend: "test"}, s.ModelInfo())
}

func TestScoreClamps(t *testing.T) {
	tests := []struct {
		model    Model
		expected float64
	}{
		{constModel(0.4), 0.4},
		{constModel(1.7), 1},
		{constModel(-0.2), 0},
	}
	for _, tc := range tests {
		s := NewScorer(&queueLoader{results: []result{{tc.model, "v1", nil}}}, time.Second)
		require.NoError(t, s.Reload(context.Background()))

		p, err := s.Score(context.Background(), domain.ScoreInput{})
		assert.NoError(t, err)
		assert.Equal(t, domain.ScoreResult{Probability: tc.expected, Version: "v1"}, p)
	}
}

func TestScoreErrors(t *testing.T) {
	s := NewScorer(&queueLoader{results: []result{{failingModel{}, "v1", nil}, {constModel(math.NaN()), "v2", nil}}}, time.Second)

	require.NoError(t, s.Reload(context.Background()))
	_, err := s.Score(context.Background(), domain.ScoreInput{})
	assert.ErrorIs(t, err, domain.ErrScorerUnavailable)

	require.NoError(t, s.Reload(context.Background()))
	_, err = s.Score(context.Background(), domain.ScoreInput{})
	assert.ErrorIs(t, err, domain.ErrScorerUnavailable)
}

func TestFailedReloadKeepsModel(t *testing.T) {
	loader := &queueLoader{results: []result{
		{constModel(0.3), "v1", nil},
		{nil, "", errors.New("corrupt artifact")},
	}}
	s := NewScorer(loader, time.Second)

	require.NoError(t, s.Reload(context.Background()))
	loadedAt := s.ModelInfo().LoadedAt

	err := s.Reload(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelReload)

	info := s.ModelInfo()
	assert.Equal(t, "v1", info.Version)
	assert.Equal(t, "test", info.Backend)
	assert.Equal(t, loadedAt, info.LoadedAt)

	p, err := s.Score(context.Background(), domain.ScoreInput{})
	assert.NoError(t, err)
	assert.Equal(t, domain.ScoreResult{Probability: 0.3, Version: "v1"}, p)
}

func TestReloadTimeout(t *testing.T) {
	loader := &queueLoader{block: make(chan struct{})}
	s := NewScorer(loader, 20*time.Millisecond)

	err := s.Reload(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelReload)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, s.ModelInfo().Version)
}

func TestReloadDuringScoring(t *testing.T) {
	loader := &queueLoader{results: []result{{constModel(0.2), "v1", nil}, {constModel(0.9), "v2", nil}}}
	s := NewScorer(loader, time.Second)
	require.NoError(t, s.Reload(context.Background()))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	bad := make(chan domain.ScoreResult, 1)
	// a probability is always reported with the model that produced it
	first := domain.ScoreResult{Probability: 0.2, Version: "v1"}
	second := domain.ScoreResult{Probability: 0.9, Version: "v2"}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				p, err := s.Score(context.Background(), domain.ScoreInput{})
				if err != nil || (p != first && p != second) {
					select {
					case bad <- p:
					default:
					}
				}
			}
		}()
	}

	require.NoError(t, s.Reload(context.Background()))
	close(stop)
	wg.Wait()

	assert.Empty(t, bad)
	assert.Equal(t, "v2", s.ModelInfo().Version)
	p, err := s.Score(context.Background(), domain.ScoreInput{})
	assert.NoError(t, err)
	assert.Equal(t, second, p)
}

func TestScoreHonoursContext(t *testing.T) {
	s := NewScorer(&queueLoader{results: []result{{blockingModel{}, "v1", nil}}}, time.Second)
	require.NoError(t, s.Reload(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Score(ctx, domain.ScoreInput{})
	assert.ErrorIs(t, err, domain.ErrScorerUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLogistic(t *testing.T) {
	assert.Equal(t, 0.5, Logistic(0))
	assert.Greater(t, Logistic(3), 0.95)
	assert.Less(t, Logistic(-3), 0.05)
}

func TestBody(t *testing.T) {
	assert.Equal(t, "plain", Body("plain", "<p>html</p>"))
	assert.Equal(t, "Hello World", Body("  ", "<html><head><title>x</title></head><body><p>Hello</p> <script>bad()</script><b>World</b></body></html>"))
}
