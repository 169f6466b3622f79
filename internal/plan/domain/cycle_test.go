package domain

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCycleStartContainsNow(t *testing.T) {
	cases := []struct {
		name   string
		anchor time.Time
		now    time.Time
		want   time.Time
	}{
		{
			name:   "same month",
			anchor: date(2025, time.January, 15),
			now:    date(2025, time.January, 20),
			want:   date(2025, time.January, 15),
		},
		{
			name:   "several months later",
			anchor: date(2025, time.January, 15),
			now:    date(2025, time.April, 10),
			want:   date(2025, time.March, 15),
		},
		{
			name:   "anchor in the future",
			anchor: date(2025, time.June, 1),
			now:    date(2025, time.March, 1),
			want:   date(2025, time.June, 1),
		},
		{
			name:   "day 31 anchor before short month boundary",
			anchor: date(2025, time.January, 31),
			now:    time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC),
			want:   date(2025, time.January, 31),
		},
		{
			name:   "day 31 anchor after normalized rollover",
			anchor: date(2025, time.January, 31),
			now:    date(2025, time.March, 10),
			want:   date(2025, time.March, 3),
		},
		{
			name:   "day 31 anchor across february of a leap year",
			anchor: date(2023, time.December, 31),
			now:    time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC),
			want:   date(2024, time.January, 31),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CycleStart(tc.anchor, tc.now)
			if !got.Equal(tc.want) {
				t.Fatalf("cycle start: got %s, want %s", got, tc.want)
			}
			if got.After(tc.now) {
				t.Fatalf("cycle start %s is after now %s", got, tc.now)
			}
			if end := CycleEnd(tc.anchor, tc.now); !end.After(tc.now) && tc.anchor.Before(tc.now) {
				t.Fatalf("cycle end %s does not cover now %s", end, tc.now)
			}
		})
	}
}
