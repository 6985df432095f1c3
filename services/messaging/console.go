package msgsvc

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/trezcool/lessonsync/core/notification"
)

type Message struct {
	UserID string
	Text   string
}

// ConsoleSink prints messages instead of delivering them, and keeps them. Used in development and tests.
type ConsoleSink struct {
	out io.Writer // nil: no output

	mu   sync.Mutex
	sent []Message
}

var _ notification.Sink = (*ConsoleSink)(nil)

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) SendMessage(ctx context.Context, userID, text string) error {
	if s.out != nil {
		body := new(strings.Builder)
		_, _ = fmt.Fprintf(body, "To: %s\r\n", userID)
		_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
		_, _ = fmt.Fprint(body, "\r\n")
		_, _ = fmt.Fprintf(body, "%s\r\n", text)
		_, _ = fmt.Fprintln(s.out, body.String())
	}

	s.mu.Lock()
	s.sent = append(s.sent, Message{UserID: userID, Text: text})
	s.mu.Unlock()
	return nil
}

func (s *ConsoleSink) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
