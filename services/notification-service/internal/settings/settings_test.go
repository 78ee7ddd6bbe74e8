package settings

import "testing"

func TestParseConnectionState(t *testing.T) {
	cases := map[string]ConnectionState{
		"open":       Connected,
		" CONNECTED": Connected,
		"close":      Disconnected,
		"connecting": Disconnected,
		"":           Disconnected,
	}
	for raw, want := range cases {
		if got := ParseConnectionState(raw); got != want {
			t.Fatalf("ParseConnectionState(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestSettingLookup(t *testing.T) {
	cfg := Default("t-1")
	cfg.Reminder.Template = "see you soon"
	s, ok := cfg.Setting(EventReminder)
	if !ok || s.Template != "see you soon" || s.HoursBefore != 2 {
		t.Fatalf("unexpected reminder setting: %+v ok=%v", s, ok)
	}
	if _, ok := cfg.Setting(Event("birthday")); ok {
		t.Fatalf("expected unknown event to be rejected")
	}
}

func TestReady(t *testing.T) {
	cfg := Default("t-1")
	if cfg.Ready() {
		t.Fatalf("default config must not be ready")
	}
	cfg.Enabled = true
	if cfg.Ready() {
		t.Fatalf("disconnected config must not be ready")
	}
	cfg.ConnectionState = Connected
	if !cfg.Ready() {
		t.Fatalf("expected ready")
	}
}

func TestValidate(t *testing.T) {
	if err := Default("t-1").Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg := Default("t-1")
	cfg.OnCreate.DelayMinutes = -5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative delay to fail")
	}

	cfg = Default("t-1")
	cfg.Confirmation.Enabled = true
	cfg.Confirmation.DaysBefore = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected enabled confirmation without days_before to fail")
	}

	cfg = Default("t-1")
	cfg.ConnectionState = "maybe"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown connection state to fail")
	}
}

func TestInstanceNameFor(t *testing.T) {
	if got := InstanceNameFor(" ABC-1 "); got != "tenant-abc-1" {
		t.Fatalf("unexpected instance name %q", got)
	}
}
