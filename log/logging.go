// SPDX-License-Identifier: GPL-3.0-or-later
package log

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu      sync.RWMutex
	loggers map[string]*logrus.Logger
)

func NewPrefixLogger(prefix string) *PrefixLogger {
	stringPrefix := fmt.Sprintf("%s:\t", prefix)

	formatter := &logrus.TextFormatter{}
	formatter.FullTimestamp = true
	formatter.TimestampFormat = "15:04:05"
	formatter.DisableColors = strings.Contains(runtime.GOOS, "windows")
	return &PrefixLogger{
		formatter,
		[]byte(stringPrefix),
	}
}

type PrefixLogger struct {
	formatter logrus.Formatter
	prefix    []byte
}

func (f *PrefixLogger) Format(entry *logrus.Entry) ([]byte, error) {
	text, err := f.formatter.Format(entry)
	if err != nil {
		return nil, err
	}
	return append(f.prefix, text...), nil
}

const (
	LOG_MAIN         = "MA"
	LOG_SYNC         = "SY"
	LOG_IMAP         = "IM"
	LOG_PERSISTENCE  = "PI"
	LOG_CLASSIFIER   = "CL"
	LOG_SCORER       = "SC"
	LOG_ORCHESTRATOR = "OR"
	LOG_BROADCASTER  = "BR"
	LOG_API          = "AP"
)

var prefixes = []string{
	LOG_MAIN,
	LOG_SYNC,
	LOG_IMAP,
	LOG_PERSISTENCE,
	LOG_CLASSIFIER,
	LOG_SCORER,
	LOG_ORCHESTRATOR,
	LOG_BROADCASTER,
	LOG_API,
}

func getLevel(loglevel string) logrus.Level {
	switch strings.ToLower(loglevel) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "panic":
		return logrus.PanicLevel
	case "fatal":
		return logrus.FatalLevel
	}

	// Info is default
	return logrus.InfoLevel
}

func newLogger(prefix, loglevel string) *logrus.Logger {
	l := logrus.New()
	l.Level = getLevel(loglevel)
	l.Formatter = NewPrefixLogger(prefix)
	return l
}

func InitLogging(loglevel string) {
	mu.Lock()
	defer mu.Unlock()

	loggers = make(map[string]*logrus.Logger)
	for _, prefix := range prefixes {
		loggers[prefix] = newLogger(prefix, loglevel)
	}
}

func SetLogLevel(loglevel string) {
	mu.RLock()
	defer mu.RUnlock()

	for _, v := range loggers {
		v.SetLevel(getLevel(loglevel))
	}
}

// SetOutput redirects every component logger, tests use io.Discard.
func SetOutput(w io.Writer) {
	mu.RLock()
	defer mu.RUnlock()

	for _, v := range loggers {
		v.SetOutput(w)
	}
}

// Logger returns the logger of a component. Logging is initialized at info
// level if InitLogging was not called yet.
func Logger(logger string) *logrus.Logger {
	mu.RLock()
	initialized := loggers != nil
	mu.RUnlock()
	if !initialized {
		InitLogging("info")
	}

	mu.RLock()
	defer mu.RUnlock()
	l, ok := loggers[logger]
	if !ok {
		panic("Logger " + logger + " unknown")
	}

	return l
}
