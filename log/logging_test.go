// SPDX-License-Identifier: GPL-3.0-or-later
package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestGetLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"whatever", logrus.InfoLevel},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, getLevel(tc.in))
		})
	}
}

func TestLoggerPrefix(t *testing.T) {
	InitLogging("info")
	buf := &bytes.Buffer{}
	SetOutput(buf)

	Logger(LOG_SYNC).Info("hello")
	assert.Contains(t, buf.String(), "SY:\t")
	assert.Contains(t, buf.String(), "hello")

	SetLogLevel("error")
	buf.Reset()
	Logger(LOG_SYNC).Info("hidden")
	assert.Empty(t, buf.String())
}

func TestUnknownLoggerPanics(t *testing.T) {
	assert.Panics(t, func() { Logger("XX") })
}
