package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/notification"
)

const uniqueViolation = "23505"

type (
	userRow struct {
		ID        string      `db:"id"`
		Name      string      `db:"name"`
		Email     null.String `db:"email"`
		Level     null.String `db:"level"`
		CreatedAt time.Time   `db:"created_at"`
	}

	settingsRow struct {
		UserID            string      `db:"user_id"`
		LessonReminders   bool        `db:"lesson_reminders"`
		TestNotifications bool        `db:"test_notifications"`
		ClubReminders     bool        `db:"club_reminders"`
		DailyMotivation   bool        `db:"daily_motivation"`
		ReminderTime      string      `db:"reminder_time"`
		Timezone          null.String `db:"timezone"`
	}

	notificationRow struct {
		ID          string    `db:"id"`
		UserID      string    `db:"user_id"`
		Kind        string    `db:"kind"`
		Title       string    `db:"title"`
		Message     string    `db:"message"`
		IsRead      bool      `db:"is_read"`
		ScheduledAt null.Time `db:"scheduled_at"`
		SentAt      null.Time `db:"sent_at"`
		CreatedAt   time.Time `db:"created_at"`
	}
)

func toUserRow(usr notification.User) userRow {
	return userRow{
		ID:        usr.ID,
		Name:      usr.Name,
		Email:     null.NewString(usr.Email, usr.Email != ""),
		Level:     null.NewString(usr.Level, usr.Level != ""),
		CreatedAt: usr.CreatedAt.UTC(),
	}
}

func (r userRow) user() notification.User {
	return notification.User{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email.String,
		Level:     r.Level.String,
		CreatedAt: r.CreatedAt,
	}
}

func toSettingsRow(s notification.Settings) settingsRow {
	return settingsRow{
		UserID:            s.UserID,
		LessonReminders:   s.LessonReminders,
		TestNotifications: s.TestNotifications,
		ClubReminders:     s.ClubReminders,
		DailyMotivation:   s.DailyMotivation,
		ReminderTime:      s.ReminderTime,
		Timezone:          null.NewString(s.Timezone, s.Timezone != ""),
	}
}

func (r settingsRow) settings() notification.Settings {
	return notification.Settings{
		UserID:            r.UserID,
		LessonReminders:   r.LessonReminders,
		TestNotifications: r.TestNotifications,
		ClubReminders:     r.ClubReminders,
		DailyMotivation:   r.DailyMotivation,
		ReminderTime:      r.ReminderTime,
		Timezone:          r.Timezone.String,
	}
}

func toNotificationRow(n notification.Notification) notificationRow {
	return notificationRow{
		ID:          n.ID,
		UserID:      n.UserID,
		Kind:        n.Kind,
		Title:       n.Title,
		Message:     n.Message,
		IsRead:      n.IsRead,
		ScheduledAt: null.NewTime(n.ScheduledAt.UTC(), !n.ScheduledAt.IsZero()),
		SentAt:      null.NewTime(n.SentAt.UTC(), !n.SentAt.IsZero()),
		CreatedAt:   n.CreatedAt.UTC(),
	}
}

func (r notificationRow) notification() notification.Notification {
	return notification.Notification{
		ID:          r.ID,
		UserID:      r.UserID,
		Kind:        r.Kind,
		Title:       r.Title,
		Message:     r.Message,
		IsRead:      r.IsRead,
		ScheduledAt: r.ScheduledAt.Time,
		SentAt:      r.SentAt.Time,
		CreatedAt:   r.CreatedAt,
	}
}

type notificationRepository struct {
	db core.DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db core.DB) notification.Repository {
	return &notificationRepository{db: db}
}

func notFound(err error) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notification.ErrNotFound
	}
	return err
}

func (repo *notificationRepository) CreateUser(ctx context.Context, usr notification.User) (notification.User, error) {
	q := `INSERT INTO users (id, name, email, level, created_at) VALUES (:id, :name, :email, :level, :created_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, toUserRow(usr)); err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return notification.User{}, notification.ErrUserExists
		}
		return notification.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *notificationRepository) QueryAllUsers(ctx context.Context) ([]notification.User, error) {
	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT * FROM users ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	users := make([]notification.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func (repo *notificationRepository) GetUserByID(ctx context.Context, id string) (notification.User, error) {
	var row userRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = $1`, id); err != nil {
		return notification.User{}, notFound(err)
	}
	return row.user(), nil
}

func (repo *notificationRepository) GetSettings(ctx context.Context, userID string) (notification.Settings, error) {
	var row settingsRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM notification_settings WHERE user_id = $1`, userID); err != nil {
		return notification.Settings{}, notFound(err)
	}
	return row.settings(), nil
}

func (repo *notificationRepository) SaveSettings(ctx context.Context, settings notification.Settings) (notification.Settings, error) {
	q := `
		INSERT INTO notification_settings
			(user_id, lesson_reminders, test_notifications, club_reminders, daily_motivation, reminder_time, timezone)
		VALUES
			(:user_id, :lesson_reminders, :test_notifications, :club_reminders, :daily_motivation, :reminder_time, :timezone)
		ON CONFLICT (user_id) DO UPDATE SET
			lesson_reminders = EXCLUDED.lesson_reminders,
			test_notifications = EXCLUDED.test_notifications,
			club_reminders = EXCLUDED.club_reminders,
			daily_motivation = EXCLUDED.daily_motivation,
			reminder_time = EXCLUDED.reminder_time,
			timezone = EXCLUDED.timezone`
	if _, err := repo.db.NamedExecContext(ctx, q, toSettingsRow(settings)); err != nil {
		return notification.Settings{}, errors.Wrap(err, "saving notification settings")
	}
	return settings, nil
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, notif notification.Notification) (notification.Notification, error) {
	notif.ID = uuid.New().String()
	q := `
		INSERT INTO notifications (id, user_id, kind, title, message, is_read, scheduled_at, sent_at, created_at)
		VALUES (:id, :user_id, :kind, :title, :message, :is_read, :scheduled_at, :sent_at, :created_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, toNotificationRow(notif)); err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return notif, nil
}

// notificationsQuery returns the newest notifications first.
func notificationsQuery(filter notification.QueryFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.UnreadOnly {
		where = append(where, "NOT is_read")
	}

	q := new(strings.Builder)
	q.WriteString("SELECT * FROM notifications")
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		_, _ = fmt.Fprintf(q, " LIMIT $%d", len(args))
	}
	return q.String(), args
}

func (repo *notificationRepository) FilterNotifications(ctx context.Context, filter notification.QueryFilter) ([]notification.Notification, error) {
	q, args := notificationsQuery(filter)
	var rows []notificationRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting notifications")
	}
	notifs := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		notifs = append(notifs, r.notification())
	}
	return notifs, nil
}

func (repo *notificationRepository) MarkNotificationsRead(ctx context.Context, userID string, ids ...string) error {
	q, args := `UPDATE notifications SET is_read = TRUE WHERE user_id = ?`, []interface{}{userID}
	if len(ids) > 0 {
		var err error
		q, args, err = sqlx.In(q+` AND id IN (?)`, userID, ids)
		if err != nil {
			return errors.Wrap(err, "building query")
		}
	}
	_, err := repo.db.ExecContext(ctx, repo.db.Rebind(q), args...)
	return errors.Wrap(err, "marking notifications read")
}

func (repo *notificationRepository) GetLastSent(ctx context.Context, userID, key string) (time.Time, error) {
	var at time.Time
	q := `SELECT last_sent FROM notification_markers WHERE user_id = $1 AND key = $2`
	if err := repo.db.GetContext(ctx, &at, q, userID, key); err != nil {
		return time.Time{}, notFound(err)
	}
	return at, nil
}

func (repo *notificationRepository) SetLastSent(ctx context.Context, userID, key string, at time.Time) error {
	q := `
		INSERT INTO notification_markers (user_id, key, last_sent) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, key) DO UPDATE SET last_sent = EXCLUDED.last_sent`
	_, err := repo.db.ExecContext(ctx, q, userID, key, at.UTC())
	return errors.Wrap(err, "saving notification marker")
}
