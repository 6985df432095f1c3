// Package msgsvc delivers notifications to users: Telegram, e-mail, an AMQP broker or the console.
package msgsvc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/notification"
)

type named struct {
	name string
	sink notification.Sink
}

// MultiSink sends every message through all of its sinks concurrently.
// It fails only if no sink delivered the message; other failures are logged.
type MultiSink struct {
	sinks  []named
	logger core.Logger
}

var _ notification.Sink = (*MultiSink)(nil)

func NewMultiSink(logger core.Logger) *MultiSink {
	return &MultiSink{logger: logger}
}

func (m *MultiSink) Add(name string, sink notification.Sink) *MultiSink {
	m.sinks = append(m.sinks, named{name: name, sink: sink})
	return m
}

func (m *MultiSink) Len() int { return len(m.sinks) }

func (m *MultiSink) SendMessage(ctx context.Context, userID, text string) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
	)
	for _, s := range m.sinks {
		s := s
		g.Go(func() error {
			if err := s.sink.SendMessage(ctx, userID, text); err != nil {
				mu.Lock()
				failed = append(failed, fmt.Sprintf("%s: %v", s.name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case len(failed) == 0:
		return nil
	case len(failed) < len(m.sinks):
		m.logger.Warn(fmt.Sprintf("message to %s partially delivered: %s", userID, strings.Join(failed, "; ")))
		return nil
	}
	return errors.Errorf("no sink delivered the message: %s", strings.Join(failed, "; "))
}
