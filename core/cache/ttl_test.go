package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type item struct {
	ID    string
	Level string
}

func itemKey(it item) string { return it.ID }

func newTestCache(ttl time.Duration) (*TTL[string, item], *clock) {
	clk := &clock{now: time.Date(2021, 1, 4, 10, 0, 0, 0, time.UTC)}
	return New[string, item](ttl, WithClock[string, item](clk.Now)), clk
}

func TestTTL_Get(t *testing.T) {
	ttl := time.Hour
	tests := []struct {
		name    string
		elapsed time.Duration
		wantOk  bool
	}{
		{name: "fresh", elapsed: 0, wantOk: true},
		{name: "just before ttl", elapsed: ttl - time.Second, wantOk: true},
		{name: "exactly ttl", elapsed: ttl, wantOk: false},
		{name: "after ttl", elapsed: ttl + time.Second, wantOk: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clk := newTestCache(ttl)
			c.Put("s1", item{ID: "s1"})
			clk.Advance(tt.elapsed)

			got, ok := c.Get("s1")
			if ok != tt.wantOk {
				t.Fatalf("Get() ok = %v; want %v", ok, tt.wantOk)
			}
			if ok && got.ID != "s1" {
				t.Errorf("Get() = %v; want s1", got)
			}
		})
	}
}

func TestTTL_Get_missingKey(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	if _, ok := c.Get("nope"); ok {
		t.Error("Get() on a missing key should miss")
	}
}

func TestTTL_PutAll_replaces(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	c.PutAll([]item{{ID: "a"}, {ID: "b"}}, itemKey)
	c.PutAll([]item{{ID: "b"}, {ID: "c"}}, itemKey)

	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) should miss after a full refresh without it")
	}
	got := c.GetAllValid(nil)
	assert.Equal(t, []item{{ID: "b"}, {ID: "c"}}, got)
	assert.Equal(t, 2, c.Len())
}

func TestTTL_PutAll_empty(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	c.PutAll([]item{{ID: "a"}}, itemKey)
	c.PutAll(nil, itemKey)

	assert.Empty(t, c.GetAllValid(nil))
	assert.Equal(t, 0, c.Len())
}

func TestTTL_PutAllKeeping(t *testing.T) {
	ttl := time.Hour
	tests := []struct {
		name    string
		elapsed time.Duration // between the two refreshes
		read    time.Duration // after the second refresh
		want    []item
	}{
		{name: "kept", elapsed: 50 * time.Minute, read: 0, want: []item{{ID: "b"}, {ID: "a"}}},
		{name: "kept entry expires on its own time", elapsed: 50 * time.Minute, read: 50 * time.Minute, want: []item{{ID: "b"}}},
		{name: "expired entry is not carried", elapsed: ttl, read: 0, want: []item{{ID: "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clk := newTestCache(ttl)
			c.PutAll([]item{{ID: "a"}, {ID: "c"}}, itemKey)
			clk.Advance(tt.elapsed)
			c.PutAllKeeping([]item{{ID: "b"}}, itemKey, []string{"a", "b", "missing"})
			clk.Advance(tt.read)

			assert.Equal(t, tt.want, c.GetAllValid(nil))
			if _, ok := c.Get("c"); ok {
				t.Error("Get(c) should miss: it was neither refreshed nor kept")
			}
		})
	}
}

func TestTTL_GetAllValid(t *testing.T) {
	c, clk := newTestCache(time.Hour)
	c.PutAll([]item{
		{ID: "1", Level: "beginner"},
		{ID: "2", Level: "advanced"},
		{ID: "3", Level: "beginner"},
	}, itemKey)
	clk.Advance(30 * time.Minute)
	c.Put("4", item{ID: "4", Level: "beginner"})

	beginners := func(it item) bool { return it.Level == "beginner" }

	tests := []struct {
		name    string
		elapsed time.Duration
		pred    func(item) bool
		want    []item
	}{
		{
			name: "all",
			want: []item{{"1", "beginner"}, {"2", "advanced"}, {"3", "beginner"}, {"4", "beginner"}},
		},
		{
			name: "filtered",
			pred: beginners,
			want: []item{{"1", "beginner"}, {"3", "beginner"}, {"4", "beginner"}},
		},
		{
			name:    "older entries expired",
			elapsed: 30 * time.Minute,
			pred:    beginners,
			want:    []item{{"4", "beginner"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk.Advance(tt.elapsed)
			assert.Equal(t, tt.want, c.GetAllValid(tt.pred))
		})
	}
}

func TestTTL_SweepExpired(t *testing.T) {
	c, clk := newTestCache(time.Hour)
	c.Put("old", item{ID: "old"})
	clk.Advance(45 * time.Minute)
	c.Put("new", item{ID: "new"})
	clk.Advance(15 * time.Minute)

	// lazily expired, still stored
	if _, ok := c.Get("old"); ok {
		t.Error("Get(old) should miss once expired")
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d before sweep; want 2", c.Len())
	}

	if removed := c.SweepExpired(); removed != 1 {
		t.Errorf("SweepExpired() = %d; want 1", removed)
	}
	assert.Equal(t, []item{{ID: "new"}}, c.GetAllValid(nil))
	assert.Equal(t, 1, c.Len())
}

// a full refresh followed by reads at +1000s, +3599s and +3600s.
func TestTTL_hourScenario(t *testing.T) {
	c, clk := newTestCache(3600 * time.Second)
	c.PutAll([]item{{ID: "1"}, {ID: "2"}}, itemKey)

	clk.Advance(1000 * time.Second)
	assert.Len(t, c.GetAllValid(nil), 2)

	clk.Advance(2599 * time.Second)
	assert.Len(t, c.GetAllValid(nil), 2)

	clk.Advance(time.Second)
	assert.Empty(t, c.GetAllValid(nil))
}

func TestTTL_concurrentAccess(t *testing.T) {
	c, _ := newTestCache(time.Hour)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				batch := []item{{ID: strconv.Itoa(w)}, {ID: strconv.Itoa(i)}}
				c.PutAll(batch, itemKey)
				c.Put("x"+strconv.Itoa(i), item{ID: "x"})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = c.GetAllValid(nil)
				_, _ = c.Get("1")
				_ = c.SweepExpired()
			}
		}()
	}
	wg.Wait()

	for _, it := range c.GetAllValid(nil) {
		if it.ID == "" {
			t.Fatalf("GetAllValid() returned a zero value")
		}
	}
}
