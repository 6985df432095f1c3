package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/lessonsync/core/notification"
)

type notificationRepository struct {
	db *DB
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateUser(ctx context.Context, usr notification.User) (notification.User, error) {
	t := repo.db.user
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.table[usr.ID]; ok {
		return notification.User{}, notification.ErrUserExists
	}
	t.table[usr.ID] = &usr
	return usr, nil
}

func (repo *notificationRepository) QueryAllUsers(ctx context.Context) ([]notification.User, error) {
	t := repo.db.user
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	users := make([]notification.User, 0, len(t.table))
	for _, usr := range t.table {
		users = append(users, *usr)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (repo *notificationRepository) GetUserByID(ctx context.Context, id string) (notification.User, error) {
	t := repo.db.user
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if usr, ok := t.table[id]; ok {
		return *usr, nil
	}
	return notification.User{}, notification.ErrNotFound
}

func (repo *notificationRepository) GetSettings(ctx context.Context, userID string) (notification.Settings, error) {
	t := repo.db.settings
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if s, ok := t.table[userID]; ok {
		return *s, nil
	}
	return notification.Settings{}, notification.ErrNotFound
}

func (repo *notificationRepository) SaveSettings(ctx context.Context, settings notification.Settings) (notification.Settings, error) {
	t := repo.db.settings
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.table[settings.UserID] = &settings
	return settings, nil
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, notif notification.Notification) (notification.Notification, error) {
	t := repo.db.notification
	t.mutex.Lock()
	defer t.mutex.Unlock()

	notif.ID = uuid.New().String()
	t.table = append(t.table, &notif)
	return notif, nil
}

// FilterNotifications returns the newest notifications first.
func (repo *notificationRepository) FilterNotifications(ctx context.Context, filter notification.QueryFilter) ([]notification.Notification, error) {
	t := repo.db.notification
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	notifs := make([]notification.Notification, 0)
	for i := len(t.table) - 1; i >= 0; i-- {
		n := t.table[i]
		if filter.UserID != "" && n.UserID != filter.UserID {
			continue
		}
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		notifs = append(notifs, *n)
		if filter.Limit > 0 && len(notifs) == filter.Limit {
			break
		}
	}
	return notifs, nil
}

// MarkNotificationsRead marks the given notifications of the user as read, all of them if ids is empty.
func (repo *notificationRepository) MarkNotificationsRead(ctx context.Context, userID string, ids ...string) error {
	t := repo.db.notification
	t.mutex.Lock()
	defer t.mutex.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	for _, n := range t.table {
		if n.UserID == userID && (len(ids) == 0 || wanted[n.ID]) {
			n.IsRead = true
		}
	}
	return nil
}

func (repo *notificationRepository) GetLastSent(ctx context.Context, userID, key string) (time.Time, error) {
	t := repo.db.marker
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if at, ok := t.table[markerKey{userID, key}]; ok {
		return at, nil
	}
	return time.Time{}, notification.ErrNotFound
}

func (repo *notificationRepository) SetLastSent(ctx context.Context, userID, key string, at time.Time) error {
	t := repo.db.marker
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.table[markerKey{userID, key}] = at
	return nil
}
