package msgsvc

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/notification"
)

var (
	host     = "https://api.sendgrid.com" // mockable
	endpoint = "/v3/mail/send"
)

// AddressBook resolves the recipient of a message.
type AddressBook interface {
	GetUserByID(ctx context.Context, id string) (notification.User, error)
}

// EmailSink sends messages by e-mail through Sendgrid. Users without an address are skipped.
type EmailSink struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	users      AddressBook
	logger     core.Logger
}

var _ notification.Sink = (*EmailSink)(nil)

func NewEmailSink(conf *core.Config, users AddressBook, logger core.Logger) *EmailSink {
	return &EmailSink{
		key:        conf.Sendgrid.APIKey,
		from:       sgmail.NewEmail(conf.Sendgrid.FromName, conf.Sendgrid.FromEmail),
		subjPrefix: "[" + conf.AppName + "] ",
		users:      users,
		logger:     logger,
	}
}

func (s *EmailSink) SendMessage(ctx context.Context, userID, text string) error {
	usr, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return errors.Wrapf(err, "looking up user %s", userID)
	}
	if usr.Email == "" {
		s.logger.Debug(fmt.Sprintf("user %s has no email address, skipping", userID))
		return nil
	}

	msg := newEmailMessage(usr, text)
	if !msg.HasRecipients() || !msg.HasContent() {
		return nil
	}
	return s.send(msg)
}

// newEmailMessage uses the first line of text as the subject.
func newEmailMessage(usr notification.User, text string) core.EmailMessage {
	subject, body := text, text
	if i := strings.Index(text, "\n"); i >= 0 {
		subject, body = text[:i], strings.TrimSpace(text[i:])
	}
	return core.EmailMessage{
		To:          []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:     subject,
		TextContent: body,
	}
}

func (s *EmailSink) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Address))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	return m
}

func (s *EmailSink) send(msg core.EmailMessage) error {
	req := sendgrid.GetRequest(s.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return errors.Wrap(err, "sending email")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}
