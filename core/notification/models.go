package notification

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
)

// Kinds
const (
	KindLessonReminder   = "lesson_reminder"
	KindTestNotification = "test_notification"
	KindClubReminder     = "club_reminder"
	KindDailyMotivation  = "daily_motivation"
)

const (
	DefaultReminderTime = "09:00"
	DefaultTimezone     = "Europe/Moscow"
)

var Kinds = []string{KindLessonReminder, KindTestNotification, KindClubReminder, KindDailyMotivation}

type (
	// User is a notification recipient. ID is the chat id of the user on the messaging channel.
	User struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Email     string    `json:"email"`
		Level     string    `json:"level"`
		CreatedAt time.Time `json:"created_at"` // UTC
	}

	Settings struct {
		UserID            string `json:"user_id"`
		LessonReminders   bool   `json:"lesson_reminders"`
		TestNotifications bool   `json:"test_notifications"`
		ClubReminders     bool   `json:"club_reminders"`
		DailyMotivation   bool   `json:"daily_motivation"`
		ReminderTime      string `json:"reminder_time" validate:"required,clock"`
		Timezone          string `json:"timezone" validate:"tz"`
	}

	Notification struct {
		ID          string    `json:"id"`
		UserID      string    `json:"user_id"`
		Kind        string    `json:"kind"`
		Title       string    `json:"title"`
		Message     string    `json:"message"`
		IsRead      bool      `json:"is_read"`
		ScheduledAt time.Time `json:"scheduled_at"`
		SentAt      time.Time `json:"sent_at"`
		CreatedAt   time.Time `json:"created_at"` // UTC
	}
)

// DefaultSettings returns the settings of a user who never changed them: everything enabled.
func DefaultSettings(userID string) Settings {
	return Settings{
		UserID:            userID,
		LessonReminders:   true,
		TestNotifications: true,
		ClubReminders:     true,
		DailyMotivation:   true,
		ReminderTime:      DefaultReminderTime,
		Timezone:          DefaultTimezone,
	}
}

// Location returns the time zone of the user, or fallback if it is not set or unknown.
func (s Settings) Location(fallback *time.Location) *time.Location {
	if s.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

func (s Settings) Enabled(kind string) bool {
	switch kind {
	case KindLessonReminder:
		return s.LessonReminders
	case KindTestNotification:
		return s.TestNotifications
	case KindClubReminder:
		return s.ClubReminders
	case KindDailyMotivation:
		return s.DailyMotivation
	}
	return false
}

// Text is what gets pushed to the messaging channel.
func (n Notification) Text() string {
	return fmt.Sprintf("%s %s\n\n%s", icons[n.Kind], n.Title, n.Message)
}

// NewUser contains information needed to register a recipient.
type NewUser struct {
	ID    string `json:"id" validate:"required,numeric"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Level string `json:"level" validate:"omitempty,oneof=beginner elementary intermediate advanced"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.ID = core.CleanString(nu.ID)
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Level = core.CleanString(nu.Level, true /* lower */)
	if nu.Level != "" {
		nu.Level = lms.ParseLevel(nu.Level)
	}
	return validate.Struct(nu)
}

// UpdateSettings defines what may be changed in the Settings of a user. nil fields are left as is.
type UpdateSettings struct {
	LessonReminders   *bool  `json:"lesson_reminders"`
	TestNotifications *bool  `json:"test_notifications"`
	ClubReminders     *bool  `json:"club_reminders"`
	DailyMotivation   *bool  `json:"daily_motivation"`
	ReminderTime      string `json:"reminder_time" validate:"omitempty,clock"`
	Timezone          string `json:"timezone" validate:"omitempty,tz"`
}

func (us *UpdateSettings) Validate(validate *validator.Validate) error {
	us.ReminderTime = core.CleanString(us.ReminderTime)
	us.Timezone = core.CleanString(us.Timezone)
	return validate.Struct(us)
}

func (us UpdateSettings) apply(s Settings) Settings {
	for _, f := range []struct {
		src *bool
		dst *bool
	}{
		{us.LessonReminders, &s.LessonReminders},
		{us.TestNotifications, &s.TestNotifications},
		{us.ClubReminders, &s.ClubReminders},
		{us.DailyMotivation, &s.DailyMotivation},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	if us.ReminderTime != "" {
		s.ReminderTime = us.ReminderTime
	}
	if us.Timezone != "" {
		s.Timezone = us.Timezone
	}
	return s
}

type QueryFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
}
