// SPDX-License-Identifier: GPL-3.0-or-later
package linear

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"
	"unicode"

	"github.com/CrawX/go-imap-phishguard/classifier/scorer"
	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/mail"
)

const Backend = "linear"

// Artifact is the on-disk format of a trained model.
type Artifact struct {
	Version   string    `json:"version"`
	Dimension int       `json:"dimension"`
	Bias      float64   `json:"bias"`
	Weights   []float64 `json:"weights"`
}

func (a *Artifact) validate(dimension int) error {
	if a.Version == "" {
		return errors.New("model version must not be empty")
	}
	if a.Dimension != dimension {
		return fmt.Errorf("model dimension %d does not match configured dimension %d", a.Dimension, dimension)
	}
	if len(a.Weights) != a.Dimension {
		return fmt.Errorf("model has %d weights, expected %d", len(a.Weights), a.Dimension)
	}
	if math.IsNaN(a.Bias) || math.IsInf(a.Bias, 0) {
		return errors.New("model bias is not finite")
	}
	for i, w := range a.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("model weight %d is not finite", i)
		}
	}
	return nil
}

type Loader struct {
	path      string
	dimension int
}

func NewLoader(path string, dimension int) *Loader {
	return &Loader{path: path, dimension: dimension}
}

func (l *Loader) Backend() string {
	return Backend
}

func (l *Loader) Load(ctx context.Context) (scorer.Model, string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, "", fmt.Errorf("could not read model file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	artifact := &Artifact{}
	err = json.Unmarshal(data, artifact)
	if err != nil {
		return nil, "", fmt.Errorf("could not deserialize model: %w", err)
	}
	err = artifact.validate(l.dimension)
	if err != nil {
		return nil, "", err
	}

	return &Model{artifact: artifact}, artifact.Version, nil
}

// Model is a logistic regression over hashed token counts.
type Model struct {
	artifact *Artifact
}

func (m *Model) Score(ctx context.Context, in domain.ScoreInput) (float64, error) {
	features := Features(in, m.artifact.Dimension)
	z := m.artifact.Bias
	for bucket, value := range features {
		z += m.artifact.Weights[bucket] * value
	}
	return scorer.Logistic(z), nil
}

// Features maps the input onto dimension buckets: FNV-1a hashed tokens,
// log-scaled term frequency, L2 normalised.
func Features(in domain.ScoreInput, dimension int) map[int]float64 {
	counts := map[int]float64{}
	add := func(prefix, text string) {
		for _, token := range Tokenize(text) {
			counts[bucket(prefix+token, dimension)]++
		}
	}
	add("s:", in.Subject)
	add("b:", scorer.Body(in.TextBody, in.HtmlBody))
	if d := mail.Domain(in.Sender); d != "" {
		counts[bucket("from:"+d, dimension)]++
	}

	norm := 0.0
	for k, c := range counts {
		v := 1 + math.Log(c)
		counts[k] = v
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for k := range counts {
			counts[k] /= norm
		}
	}
	return counts
}

func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func bucket(token string, dimension int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return int(h.Sum32() % uint32(dimension))
}
