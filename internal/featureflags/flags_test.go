package featureflags

import "testing"

func TestEnabled(t *testing.T) {
	t.Setenv("FLAG_SWEEPER", "Yes")
	if !Enabled(Sweeper) {
		t.Fatalf("expected sweeper enabled")
	}
	t.Setenv("FLAG_SWEEPER", "")
	if Enabled(Sweeper) {
		t.Fatalf("expected sweeper disabled when unset")
	}
}

func TestEnabledOr(t *testing.T) {
	t.Setenv("FLAG_LOGIN_THROTTLE", "")
	if !EnabledOr(LoginThrottle, true) {
		t.Fatalf("unset flag should take the default")
	}
	t.Setenv("FLAG_LOGIN_THROTTLE", "off")
	if EnabledOr(LoginThrottle, true) {
		t.Fatalf("explicit off should override the default")
	}
}
