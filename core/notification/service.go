package notification

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
)

var (
	// errors
	ErrNotFound   = errors.New("not found")
	ErrUserExists = errors.New("a user with this id already exists")
)

type (
	// Repository is the backend store of recipients, their settings and notifications.
	Repository interface {
		CreateUser(ctx context.Context, user User) (User, error)
		QueryAllUsers(ctx context.Context) ([]User, error)
		GetUserByID(ctx context.Context, id string) (User, error)

		// GetSettings returns ErrNotFound if the user never saved settings.
		GetSettings(ctx context.Context, userID string) (Settings, error)
		SaveSettings(ctx context.Context, settings Settings) (Settings, error)

		CreateNotification(ctx context.Context, notif Notification) (Notification, error)
		FilterNotifications(ctx context.Context, filter QueryFilter) ([]Notification, error)
		MarkNotificationsRead(ctx context.Context, userID string, ids ...string) error

		MarkerStore
	}

	// MarkerStore remembers what was last sent to a user, per marker key.
	MarkerStore interface {
		// GetLastSent returns ErrNotFound if nothing was recorded for key.
		GetLastSent(ctx context.Context, userID, key string) (time.Time, error)
		SetLastSent(ctx context.Context, userID, key string, at time.Time) error
	}

	// LessonReader serves the cached lessons.
	LessonReader interface {
		Lessons(level string) []lms.Lesson
	}

	// Sink delivers a message to a user on the messaging channel.
	Sink interface {
		SendMessage(ctx context.Context, userID, text string) error
	}
)

type Service struct {
	repo     Repository
	validate *validator.Validate
}

func NewService(repo Repository, validate *validator.Validate) *Service {
	return &Service{repo: repo, validate: validate}
}

func (svc *Service) CreateUser(ctx context.Context, nu NewUser) (User, error) {
	if err := nu.Validate(svc.validate); err != nil {
		return User{}, err
	}
	usr, err := svc.repo.CreateUser(ctx, User{
		ID:        nu.ID,
		Name:      nu.Name,
		Email:     nu.Email,
		Level:     nu.Level,
		CreatedAt: time.Now().UTC(),
	})
	if err == ErrUserExists {
		return User{}, core.NewValidationError(err, core.FieldError{Field: "id", Error: err.Error()})
	}
	return usr, err
}

func (svc *Service) QueryAllUsers(ctx context.Context) ([]User, error) {
	return svc.repo.QueryAllUsers(ctx)
}

func (svc *Service) GetUser(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

// Settings returns the settings of the user, or the defaults if they were never saved.
func (svc *Service) Settings(ctx context.Context, userID string) (Settings, error) {
	return settingsOf(ctx, svc.repo, userID)
}

func (svc *Service) UpdateSettings(ctx context.Context, userID string, us UpdateSettings) (Settings, error) {
	if _, err := svc.repo.GetUserByID(ctx, userID); err != nil {
		return Settings{}, err
	}
	if err := us.Validate(svc.validate); err != nil {
		return Settings{}, err
	}
	current, err := svc.Settings(ctx, userID)
	if err != nil {
		return Settings{}, err
	}
	return svc.repo.SaveSettings(ctx, us.apply(current))
}

func (svc *Service) Notifications(ctx context.Context, filter QueryFilter) ([]Notification, error) {
	return svc.repo.FilterNotifications(ctx, filter)
}

func (svc *Service) MarkRead(ctx context.Context, userID string, ids ...string) error {
	return svc.repo.MarkNotificationsRead(ctx, userID, ids...)
}

func settingsOf(ctx context.Context, repo Repository, userID string) (Settings, error) {
	s, err := repo.GetSettings(ctx, userID)
	if err == ErrNotFound {
		return DefaultSettings(userID), nil
	}
	return s, err
}
