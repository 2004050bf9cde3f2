package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestTimeLimitLimitFor(t *testing.T) {
	limit := TimeLimit{AppID: "com.video", DailyLimitMinutes: 60}
	if got := limit.LimitFor(time.Saturday); got != 60 {
		t.Fatalf("expected daily limit on weekend without override, got %d", got)
	}

	limit.WeekendLimitMinutes = intPtr(120)
	limit.WeekdayLimitMinutes = intPtr(30)

	tests := []struct {
		day  time.Weekday
		want int
	}{
		{time.Monday, 30},
		{time.Friday, 30},
		{time.Saturday, 120},
		{time.Sunday, 120},
	}
	for _, tt := range tests {
		if got := limit.LimitFor(tt.day); got != tt.want {
			t.Errorf("LimitFor(%s) = %d, want %d", tt.day, got, tt.want)
		}
	}
}

func TestTimeLimitValidate(t *testing.T) {
	if err := (TimeLimit{AppID: "a", DailyLimitMinutes: 0}).Validate(); err != nil {
		t.Fatalf("zero limit should be valid: %v", err)
	}
	if err := (TimeLimit{AppID: "a", DailyLimitMinutes: -1}).Validate(); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
	if err := (TimeLimit{AppID: "a", WeekendLimitMinutes: intPtr(-3)}).Validate(); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit for weekend override, got %v", err)
	}
	if err := (TimeLimit{DailyLimitMinutes: 5}).Validate(); err == nil {
		t.Fatal("expected error for missing app id")
	}
}

type mapSettings map[string]string

func (m mapSettings) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}
func (m mapSettings) Put(_ context.Context, key, value string) error { m[key] = value; return nil }
func (m mapSettings) Delete(_ context.Context, key string) error     { delete(m, key); return nil }

func TestLoadSettingsDefaults(t *testing.T) {
	ctx := context.Background()
	settings := mapSettings{}

	method, err := LoadUnlockMethod(ctx, settings)
	if err != nil || method != UnlockMath {
		t.Fatalf("expected math default, got %s (%v)", method, err)
	}
	bonus, err := LoadBonusMinutes(ctx, settings, 45)
	if err != nil || bonus != 45 {
		t.Fatalf("expected 45 default, got %d (%v)", bonus, err)
	}

	settings[SettingUnlockMethod] = "nfc"
	settings[SettingBonusMinutes] = "20"
	if method, _ := LoadUnlockMethod(ctx, settings); method != UnlockNFC {
		t.Fatalf("expected nfc, got %s", method)
	}
	if bonus, _ := LoadBonusMinutes(ctx, settings, 45); bonus != 20 {
		t.Fatalf("expected 20, got %d", bonus)
	}

	settings[SettingUnlockMethod] = "retina"
	if _, err := LoadUnlockMethod(ctx, settings); err == nil {
		t.Fatal("expected error for unknown method")
	}
}
