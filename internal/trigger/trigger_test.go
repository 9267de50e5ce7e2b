package trigger

import (
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 14, 22, 41, 0, time.UTC)

	tests := []struct {
		name string
		spec Spec
		want time.Time
	}{
		{
			name: "every minute at second zero",
			spec: Spec{Kind: KindCron, Second: "0"},
			want: time.Date(2025, 3, 10, 14, 23, 0, 0, time.UTC),
		},
		{
			name: "hourly at half past",
			spec: Spec{Kind: KindCron, Second: "0", Minute: "30"},
			want: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		},
		{
			name: "step minutes",
			spec: Spec{Kind: KindCron, Second: "0", Minute: "*/15"},
			want: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		},
		{
			name: "daily at midnight",
			spec: Spec{Kind: KindCron, Second: "0", Minute: "0", Hour: "0"},
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "weekday range",
			spec: Spec{Kind: KindCron, Second: "0", Minute: "0", Hour: "9", DayOfWeek: "1-5"},
			want: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "minute list",
			spec: Spec{Kind: KindCron, Second: "0", Minute: "0,30"},
			want: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			trig, err := Parse(tt.spec)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			got, ok := trig.Next(time.Time{}, now)
			if !ok {
				t.Fatal("Next returned ok=false for a recurring trigger")
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseCronTimezone(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	trig, err := Parse(Spec{Kind: KindCron, Second: "0", Minute: "0", Hour: "9", Timezone: "America/New_York"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// 13:00 UTC == 09:00 EDT; the 9am wall-clock fire should be one hour away.
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	got, ok := trig.Next(time.Time{}, now)
	if !ok {
		t.Fatal("Next returned ok=false")
	}
	want := time.Date(2025, 6, 2, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestParseCronInvalid(t *testing.T) {
	t.Parallel()

	for _, spec := range []Spec{
		{Kind: KindCron, Minute: "61"},
		{Kind: KindCron, Hour: "bogus"},
		{Kind: KindCron, Timezone: "Not/AZone"},
	} {
		if _, err := Parse(spec); err == nil {
			t.Errorf("Parse(%+v) accepted an invalid spec", spec)
		}
	}
}

func TestIntervalTrigger(t *testing.T) {
	t.Parallel()

	trig, err := Parse(Spec{Kind: KindInterval, Minutes: 5})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("first fire is one period out", func(t *testing.T) {
		got, ok := trig.Next(time.Time{}, now)
		if !ok {
			t.Fatal("ok=false")
		}
		if want := now.Add(5 * time.Minute); !got.Equal(want) {
			t.Errorf("Next = %v, want %v", got, want)
		}
	})

	t.Run("steady state advances by one period", func(t *testing.T) {
		prev := now
		got, ok := trig.Next(prev, now.Add(time.Second))
		if !ok {
			t.Fatal("ok=false")
		}
		if want := prev.Add(5 * time.Minute); !got.Equal(want) {
			t.Errorf("Next = %v, want %v", got, want)
		}
	})

	t.Run("overdue periods are skipped not replayed", func(t *testing.T) {
		prev := now
		late := now.Add(23 * time.Minute) // 4 periods elapsed
		got, ok := trig.Next(prev, late)
		if !ok {
			t.Fatal("ok=false")
		}
		if want := now.Add(25 * time.Minute); !got.Equal(want) {
			t.Errorf("Next = %v, want %v", got, want)
		}
		if !got.After(late) {
			t.Errorf("Next = %v is not after now %v", got, late)
		}
	})
}

func TestIntervalSumsFields(t *testing.T) {
	t.Parallel()

	trig, err := Parse(Spec{Kind: KindInterval, Days: 1, Hours: 2, Minutes: 3, Seconds: 4})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got, _ := trig.Next(time.Time{}, now)
	want := now.Add(26*time.Hour + 3*time.Minute + 4*time.Second)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestIntervalRejectsNonPositive(t *testing.T) {
	t.Parallel()

	if _, err := Parse(Spec{Kind: KindInterval}); err == nil {
		t.Error("zero interval accepted")
	}
	if _, err := Parse(Spec{Kind: KindInterval, Seconds: -5}); err == nil {
		t.Error("negative interval accepted")
	}
}

func TestDateTrigger(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	trig, err := Parse(Spec{Kind: KindDate, RunAt: at})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	now := at.Add(-time.Hour)
	got, ok := trig.Next(time.Time{}, now)
	if !ok || !got.Equal(at) {
		t.Fatalf("first Next = %v, %v; want %v, true", got, ok, at)
	}

	// Fires exactly once even when already overdue.
	got, ok = trig.Next(time.Time{}, at.Add(time.Hour))
	if !ok || !got.Equal(at) {
		t.Fatalf("overdue Next = %v, %v; want %v, true", got, ok, at)
	}

	if _, ok := trig.Next(at, at.Add(time.Hour)); ok {
		t.Error("date trigger fired a second time")
	}
}

func TestDateRequiresRunAt(t *testing.T) {
	t.Parallel()

	if _, err := Parse(Spec{Kind: KindDate}); err == nil {
		t.Error("date trigger without run_at accepted")
	}
}

func TestParseUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := Parse(Spec{Kind: "weekly"}); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestSpecHelpers(t *testing.T) {
	t.Parallel()

	if s := Every(90 * time.Second); s.Seconds != 90 || s.Kind != KindInterval {
		t.Errorf("Every = %+v", s)
	}
	at := time.Date(2025, 5, 5, 5, 5, 5, 0, time.UTC)
	if s := Date(at); s.Kind != KindDate || !s.RunAt.Equal(at) {
		t.Errorf("Date = %+v", s)
	}
}
