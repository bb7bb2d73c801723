// Package notify delivers advisor events (fills, allocation summaries,
// failures) to a human. The zero-setup default logs; Telegram delivery is
// enabled by configuration.
package notify

import (
	"context"
	"fmt"
	"log"
)

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Log writes notifications to a logger. It is the fallback when no
// external channel is configured and never fails.
type Log struct {
	logger *log.Logger
}

func NewLog(logger *log.Logger) *Log {
	if logger == nil {
		logger = log.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, msg string) error {
	l.logger.Printf("notify: %s", msg)
	return nil
}

// Multi fans one notification out to several channels. Delivery failures
// are collected, not short-circuited.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg string) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("notify: %w", err)
		}
	}
	return firstErr
}
