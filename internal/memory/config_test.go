package memory

import "testing"

func TestCacheBudget(t *testing.T) {
	tests := []struct {
		name     string
		explicit int64
		result   ConfigResult
		want     int64
	}{
		{name: "explicit wins", explicit: 1 << 20, result: ConfigResult{GoMemLimit: 1 << 30}, want: 1 << 20},
		{name: "no limit uses default", explicit: 0, result: ConfigResult{}, want: DefaultCacheBudget},
		{name: "share of limit", explicit: 0, result: ConfigResult{GoMemLimit: 1000 << 20}, want: 100 << 20},
		{name: "floor applies", explicit: 0, result: ConfigResult{GoMemLimit: 8 << 20}, want: MinCacheBudget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CacheBudget(tt.explicit, tt.result); got != tt.want {
				t.Errorf("CacheBudget() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigureFromEnvWithoutLimit(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	t.Setenv("MEMORY_LIMIT", "")

	result := ConfigureFromEnv()
	if result.Configured {
		t.Error("Configured should be false without MEMORY_LIMIT")
	}
	if result.Source != "none" {
		t.Errorf("Source = %q, want none", result.Source)
	}
}

func TestConfigureFromEnvInvalidLimit(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	t.Setenv("MEMORY_LIMIT", "lots")

	result := ConfigureFromEnv()
	if result.Configured || result.Source != "none" {
		t.Errorf("invalid MEMORY_LIMIT should not configure, got %+v", result)
	}
}
