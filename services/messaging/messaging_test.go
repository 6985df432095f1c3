package msgsvc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/notification"
	logsvc "github.com/trezcool/lessonsync/services/logger"
)

const reminder = "🔔 Lesson reminder\n\nYour lesson 'Grammar' starts in one hour (online)."

func TestTelegramSink(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Masomo","username":"masomo_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			if r.Form.Get("chat_id") == "404" {
				_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
				return
			}
			mu.Lock()
			sent = append(sent, r.Form.Get("chat_id")+": "+r.Form.Get("text"))
			mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":100,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	defaultEndpoint := apiEndpoint
	apiEndpoint = srv.URL + "/bot%s/%s"
	defer func() { apiEndpoint = defaultEndpoint }()

	sink, err := NewTelegramSink("token", logsvc.NewNopLogger())
	if err != nil {
		t.Fatalf("NewTelegramSink() error = %v", err)
	}

	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{name: "sent", userID: "100"},
		{name: "not a chat id", userID: "amina", wantErr: true},
		{name: "unknown chat", userID: "404", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := sink.SendMessage(context.Background(), tt.userID, reminder); (err != nil) != tt.wantErr {
				t.Errorf("SendMessage() error = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
	assert.Equal(t, []string{"100: " + reminder}, sent)
}

type addressBook map[string]notification.User

func (ab addressBook) GetUserByID(ctx context.Context, id string) (notification.User, error) {
	if usr, ok := ab[id]; ok {
		return usr, nil
	}
	return notification.User{}, notification.ErrNotFound
}

func TestEmailSink(t *testing.T) {
	var bodies []map[string]interface{}
	status := http.StatusAccepted
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != endpoint || r.Header.Get("Authorization") != "Bearer key" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	defaultHost := host
	host = srv.URL
	defer func() { host = defaultHost }()

	conf := &core.Config{
		AppName:  "Masomo",
		Sendgrid: core.SendgridConfig{APIKey: "key", FromName: "Masomo", FromEmail: "noreply@masomo.test"},
	}
	users := addressBook{
		"100": {ID: "100", Name: "Amina", Email: "amina@masomo.test"},
		"200": {ID: "200", Name: "Joe"},
	}
	sink := NewEmailSink(conf, users, logsvc.NewNopLogger())

	tests := []struct {
		name      string
		userID    string
		status    int
		wantErr   bool
		wantMails int
	}{
		{name: "sent", userID: "100", status: http.StatusAccepted, wantMails: 1},
		{name: "no address", userID: "200", status: http.StatusAccepted, wantMails: 1},
		{name: "unknown user", userID: "404", status: http.StatusAccepted, wantErr: true, wantMails: 1},
		{name: "rejected", userID: "100", status: http.StatusUnauthorized, wantErr: true, wantMails: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status = tt.status
			if err := sink.SendMessage(context.Background(), tt.userID, reminder); (err != nil) != tt.wantErr {
				t.Errorf("SendMessage() error = %v; wantErr %v", err, tt.wantErr)
			}
			assert.Len(t, bodies, tt.wantMails)
		})
	}

	pers := bodies[0]["personalizations"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "[Masomo] 🔔 Lesson reminder", pers["subject"])
	assert.Equal(t, "amina@masomo.test", pers["to"].([]interface{})[0].(map[string]interface{})["email"])
	content := bodies[0]["content"].([]interface{})
	assert.Len(t, content, 1)
	assert.Equal(t, "Your lesson 'Grammar' starts in one hour (online).", content[0].(map[string]interface{})["value"])
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if ch.err != nil {
		return ch.err
	}
	ch.keys = append(ch.keys, exchange+"/"+key)
	ch.published = append(ch.published, msg)
	return nil
}

func TestAMQPSink(t *testing.T) {
	ch := new(fakeChannel)
	sink := newAMQPSink(ch, core.AMQPConfig{Exchange: "notifications", RoutingKey: "telegram"})
	sentAt := time.Date(2021, 1, 4, 14, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return sentAt }

	if err := sink.SendMessage(context.Background(), "100", reminder); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	assert.Equal(t, []string{"notifications/telegram"}, ch.keys)

	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)

	var env Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	assert.Equal(t, Envelope{UserID: "100", Text: reminder, SentAt: sentAt}, env)

	ch.err = amqp.ErrClosed
	if err := sink.SendMessage(context.Background(), "100", reminder); errors.Cause(err) != amqp.ErrClosed {
		t.Errorf("SendMessage() error = %v; want %v", err, amqp.ErrClosed)
	}
	assert.NoError(t, sink.Close())
}

type failingSink struct{}

func (failingSink) SendMessage(ctx context.Context, userID, text string) error {
	return errors.New("unreachable")
}

func TestMultiSink(t *testing.T) {
	tests := []struct {
		name    string
		sinks   []notification.Sink
		wantErr bool
	}{
		{name: "none"},
		{name: "all delivered", sinks: []notification.Sink{NewConsoleSink(nil), NewConsoleSink(nil)}},
		{name: "partially delivered", sinks: []notification.Sink{failingSink{}, NewConsoleSink(nil)}},
		{name: "nothing delivered", sinks: []notification.Sink{failingSink{}, failingSink{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMultiSink(logsvc.NewNopLogger())
			for i, s := range tt.sinks {
				m.Add(string(rune('a'+i)), s)
			}
			if err := m.SendMessage(context.Background(), "100", reminder); (err != nil) != tt.wantErr {
				t.Errorf("SendMessage() error = %v; wantErr %v", err, tt.wantErr)
			}
			for _, s := range tt.sinks {
				if cs, ok := s.(*ConsoleSink); ok {
					assert.Equal(t, []Message{{UserID: "100", Text: reminder}}, cs.Sent())
				}
			}
		})
	}
}

func TestConsoleSink(t *testing.T) {
	out := new(strings.Builder)
	sink := NewConsoleSink(out)

	_ = sink.SendMessage(context.Background(), "100", reminder)
	assert.Contains(t, out.String(), "To: 100\r\n")
	assert.Contains(t, out.String(), reminder)
	assert.Len(t, sink.Sent(), 1)
}
