package version

import (
	"runtime/debug"
	"testing"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	if info.Name != "Stellar Connect" {
		t.Errorf("Expected name 'Stellar Connect', got '%s'", info.Name)
	}
	if info.Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestStamp(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.24.2",
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-10-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	t.Run("fills missing fields", func(t *testing.T) {
		info := Info{Name: "Stellar Connect", Version: "1.2.3"}
		stamp(&info, bi)
		if info.GitCommit != "0123456789abcdef" || info.BuildTime != "2026-10-01T10:00:00Z" || !info.Modified {
			t.Errorf("unexpected info %+v", info)
		}
		want := "Stellar Connect v1.2.3 (0123456+dirty) built 2026-10-01T10:00:00Z go1.24.2"
		if got := info.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	})

	t.Run("keeps ldflags values", func(t *testing.T) {
		info := Info{Name: "Stellar Connect", Version: "1.2.3", GitCommit: "feedbee", BuildTime: "today"}
		stamp(&info, bi)
		if info.GitCommit != "feedbee" || info.BuildTime != "today" {
			t.Errorf("ldflags values overwritten: %+v", info)
		}
	})
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"bare", Info{Name: "Stellar Connect", Version: "0.1.0"}, "Stellar Connect v0.1.0"},
		{"short commit", Info{Name: "Stellar Connect", Version: "0.1.0", GitCommit: "abc"}, "Stellar Connect v0.1.0 (abc)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	want := "stellar-connect/" + Version
	if got := UserAgent(); got != want {
		t.Errorf("Expected user agent %q, got %q", want, got)
	}
}
