// SPDX-License-Identifier: GPL-3.0-or-later
package spamassassin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbability(t *testing.T) {
	assert.Equal(t, 0.5, Probability(5, 5, 2))
	assert.Greater(t, Probability(15, 5, 2), 0.99)
	assert.Less(t, Probability(-2, 5, 2), 0.05)
	assert.Greater(t, Probability(6, 5, 2), Probability(5.5, 5, 2))
}

func TestLoadUnreachable(t *testing.T) {
	_, _, err := NewLoader("127.0.0.1:1", 5, 2).Load(context.Background())
	assert.Error(t, err)
}
