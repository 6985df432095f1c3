// Package inmemdb stores everything in process memory. Used in tests and with `database.inMemory`.
package inmemdb

import (
	"sync"
	"time"

	"github.com/trezcool/lessonsync/core/lmssync"
	"github.com/trezcool/lessonsync/core/notification"
)

type (
	DB struct {
		user         *userTable
		settings     *settingsTable
		notification *notificationTable
		marker       *markerTable
		syncRun      *syncRunTable
	}

	userTable struct {
		mutex sync.RWMutex
		table map[string]*notification.User
	}

	settingsTable struct {
		mutex sync.RWMutex
		table map[string]*notification.Settings
	}

	notificationTable struct {
		mutex sync.RWMutex
		table []*notification.Notification
	}

	markerTable struct {
		mutex sync.RWMutex
		table map[markerKey]time.Time
	}

	markerKey struct {
		userID string
		key    string
	}

	syncRunTable struct {
		mutex sync.RWMutex
		table []lmssync.Run
	}
)

func Open() *DB {
	return &DB{
		user:         &userTable{table: make(map[string]*notification.User)},
		settings:     &settingsTable{table: make(map[string]*notification.Settings)},
		notification: &notificationTable{},
		marker:       &markerTable{table: make(map[markerKey]time.Time)},
		syncRun:      &syncRunTable{},
	}
}
