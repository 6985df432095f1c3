package notification

import (
	"testing"
	"time"
)

func TestWindow_Contains(t *testing.T) {
	target := time.Date(2021, 1, 4, 17, 0, 0, 0, time.UTC)
	w := NewWindow(target, 5*time.Minute)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "target", at: target, want: true},
		{name: "start", at: target.Add(-5 * time.Minute), want: true},
		{name: "end", at: target.Add(5 * time.Minute), want: true},
		{name: "before", at: target.Add(-5*time.Minute - time.Nanosecond)},
		{name: "after", at: target.Add(5*time.Minute + time.Nanosecond)},
		{name: "other zone", at: target.In(time.FixedZone("MSK", 3*3600)), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.at); got != tt.want {
				t.Errorf("%v.Contains(%v) = %v; want %v", w, tt.at, got, tt.want)
			}
		})
	}
}

func TestSameDate(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)
	tests := []struct {
		name string
		a, b time.Time
		want bool
	}{
		{
			name: "same day",
			a:    time.Date(2021, 1, 4, 0, 0, 0, 0, msk),
			b:    time.Date(2021, 1, 4, 23, 59, 0, 0, msk),
			want: true,
		},
		{
			name: "next day",
			a:    time.Date(2021, 1, 4, 23, 59, 0, 0, msk),
			b:    time.Date(2021, 1, 5, 0, 0, 0, 0, msk),
		},
		{
			name: "same UTC day, different local days",
			a:    time.Date(2021, 1, 4, 20, 0, 0, 0, time.UTC), // 23:00 MSK
			b:    time.Date(2021, 1, 4, 22, 0, 0, 0, time.UTC), // 01:00 MSK
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sameDate(tt.a, tt.b, msk); got != tt.want {
				t.Errorf("sameDate() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateSettings_apply(t *testing.T) {
	off := false
	us := UpdateSettings{DailyMotivation: &off, ReminderTime: "07:30"}

	got := us.apply(DefaultSettings("1"))
	want := DefaultSettings("1")
	want.DailyMotivation = false
	want.ReminderTime = "07:30"
	if got != want {
		t.Errorf("apply() = %+v; want %+v", got, want)
	}
}
