// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultPageSize    = 20
	DefaultMaxAttempts = 3
)

type configuration struct {
	PageSize         int
	MaxPages         int
	InitialWindow    uint32
	OperationTimeout time.Duration

	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func defaultConfiguration() *configuration {
	return &configuration{
		PageSize:         DefaultPageSize,
		MaxAttempts:      DefaultMaxAttempts,
		OperationTimeout: 30 * time.Second,
		BackoffBase:      2 * time.Second,
		BackoffMax:       time.Minute,
	}
}

type ConfigFunc func(c *configuration) error

func PageSize(size int) ConfigFunc {
	return func(c *configuration) error {
		if size <= 0 {
			return fmt.Errorf("PageSize must be positive, got %d", size)
		}
		c.PageSize = size
		return nil
	}
}

// MaxPages limits the pages fetched per mailbox and cycle, 0 means unlimited.
func MaxPages(pages int) ConfigFunc {
	return func(c *configuration) error {
		if pages < 0 {
			return fmt.Errorf("MaxPages cannot be negative, got %d", pages)
		}
		c.MaxPages = pages
		return nil
	}
}

// InitialWindow restricts never synced mailboxes to their newest uids.
func InitialWindow(uids uint32) ConfigFunc {
	return func(c *configuration) error {
		c.InitialWindow = uids
		return nil
	}
}

func OperationTimeout(timeout time.Duration) ConfigFunc {
	return func(c *configuration) error {
		if timeout <= 0 {
			return errors.New("OperationTimeout must be positive")
		}
		c.OperationTimeout = timeout
		return nil
	}
}

func Retry(maxAttempts int, base, max time.Duration) ConfigFunc {
	return func(c *configuration) error {
		if maxAttempts <= 0 {
			return fmt.Errorf("MaxAttempts must be positive, got %d", maxAttempts)
		}
		if base <= 0 || max < base {
			return fmt.Errorf("backoff must satisfy 0 < base <= max, got %v and %v", base, max)
		}
		c.MaxAttempts = maxAttempts
		c.BackoffBase = base
		c.BackoffMax = max
		return nil
	}
}

// backoff doubles the base delay per failed attempt up to max.
func (c *configuration) backoff(attempt int) time.Duration {
	delay := c.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	return min(delay, c.BackoffMax)
}
