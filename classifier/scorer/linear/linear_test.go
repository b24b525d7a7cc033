// SPDX-License-Identifier: GPL-3.0-or-later
package linear

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CrawX/go-imap-phishguard/classifier/scorer"
	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 64

func writeModel(t *testing.T, path string, a Artifact) {
	data, err := json.Marshal(a)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func artifact(version string, bias float64) Artifact {
	return Artifact{Version: version, Dimension: testDimension, Bias: bias, Weights: make([]float64, testDimension)}
}

func TestLoadAndScore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	a := artifact("2024-01", 0)
	in := domain.ScoreInput{Subject: "verify your account", TextBody: "urgent password reset"}
	for b := range Features(in, testDimension) {
		a.Weights[b] = 3
	}
	writeModel(t, path, a)

	model, version, err := NewLoader(path, testDimension).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-01", version)

	p, err := model.Score(context.Background(), in)
	require.NoError(t, err)
	assert.Greater(t, p, 0.9)

	p, err = model.Score(context.Background(), domain.ScoreInput{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, p)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name  string
		write func(path string)
		err   string
	}{
		{"missing file", func(path string) {}, "could not read model file"},
		{"corrupt json", func(path string) { os.WriteFile(path, []byte("{not json"), 0o600) }, "could not deserialize model"},
		{"weight count", func(path string) {
			a := artifact("v", 0)
			a.Weights = a.Weights[:10]
			writeModel(t, path, a)
		}, "model has 10 weights, expected 64"},
		{"dimension", func(path string) {
			a := artifact("v", 0)
			a.Dimension = 32
			a.Weights = a.Weights[:32]
			writeModel(t, path, a)
		}, "model dimension 32 does not match configured dimension 64"},
		{"no version", func(path string) { writeModel(t, path, artifact("", 0)) }, "model version must not be empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.json")
			tc.write(path)
			_, _, err := NewLoader(path, testDimension).Load(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestFeaturesNormalised(t *testing.T) {
	features := Features(domain.ScoreInput{
		Subject:  "Win win WIN a prize",
		Sender:   "promo@Example.com",
		HtmlBody: "<p>Claim your <b>prize</b> now</p>",
	}, testDimension)
	require.NotEmpty(t, features)

	norm := 0.0
	for b, v := range features {
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, testDimension)
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"verify", "your", "paypal", "account", "今天"}, Tokenize("Verify your PayPal-account! 今天"))
}

func TestHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	writeModel(t, path, artifact("v1", -10))

	s := scorer.NewScorer(NewLoader(path, testDimension), time.Second)
	require.NoError(t, s.Reload(context.Background()))
	p, err := s.Score(context.Background(), domain.ScoreInput{Subject: "hi"})
	require.NoError(t, err)
	assert.Less(t, p.Probability, 0.01)
	assert.Equal(t, "v1", p.Version)

	writeModel(t, path, artifact("v2", 10))
	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, "v2", s.ModelInfo().Version)
	p, err = s.Score(context.Background(), domain.ScoreInput{Subject: "hi"})
	require.NoError(t, err)
	assert.Greater(t, p.Probability, 0.99)
	assert.Equal(t, "v2", p.Version)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	assert.ErrorIs(t, s.Reload(context.Background()), domain.ErrModelReload)
	assert.Equal(t, "v2", s.ModelInfo().Version)
	assert.Equal(t, Backend, s.ModelInfo().Backend)
}
