package api

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("WEBUI_UPLOAD_SIZE_MAX", "1024")
	t.Setenv("WEBUI_SECURE_COOKIE", "false")
	t.Setenv("WEBUI_LOGIN_LOCKOUT_LONG_DURATION", "45m")

	got, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	want := DefaultConfig()
	want.UploadSizeMax = 1024
	want.SecureCookie = false
	want.LockoutLongDuration = 45 * time.Minute
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	for key, val := range map[string]string{
		"WEBUI_UPLOAD_SIZE_MAX":   "0",
		"WEBUI_LOGIN_IP_MAX":      "-3",
		"WEBUI_WATCH_INTERVAL":    "soon",
		"WEBUI_LOGIN_USER_WINDOW": "-1h",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := LoadConfigFromEnv()
			if err == nil {
				t.Fatalf("expected error for %s=%q", key, val)
			}
			if !strings.HasPrefix(err.Error(), "api: config:") {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
