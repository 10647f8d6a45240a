package common

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

// TestDefaultConfigsAreValid verifies that the defaults pass validation
func TestDefaultConfigsAreValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Pool.Validate(); err != nil {
		t.Fatalf("Default pool config invalid: %v", err)
	}
	if cfg.Connection.Dispatch != DispatchPool {
		t.Errorf("Expected pool dispatch by default, got %q", cfg.Connection.Dispatch)
	}
	if cfg.Transport.Security != SecurityNone {
		t.Errorf("Expected no security by default, got %q", cfg.Transport.Security)
	}
}

// TestPoolConfigValidate tests the pool parameter checks
func TestPoolConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *PoolConfig)
	}{
		{"zero min threads", func(c *PoolConfig) { c.MinThreads = 0 }},
		{"max below min", func(c *PoolConfig) { c.MaxThreads = c.MinThreads - 1 }},
		{"zero clients per thread", func(c *PoolConfig) { c.ClientsPerThread = 0 }},
		{"zero capacity", func(c *PoolConfig) { c.Capacity = 0 }},
		{"zero scaling interval", func(c *PoolConfig) { c.ScalingInterval = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultPoolConfig()
			tc.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

// TestConfigString checks that every section is rendered
func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	out := cfg.String()
	for _, section := range []string{"LOGGING", "CONNECTION", "WORKER POOL", "TRANSPORT", "SECURITY", "METRICS"} {
		if !strings.Contains(out, section) {
			t.Errorf("Missing section %q in:\n%s", section, out)
		}
	}
}

// TestParseLogLevel tests the level names
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"verbose", logger.INFO, true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLogLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

// TestLoggerFormat checks the line format and level filtering
func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := &dMsgLogger{name: "link", logger: log.New(&buf, "", 0)}
	l.SetLevel(logger.INFO)

	l.Debugf("hidden %d", 1)
	l.Infof("visible %d", 2)
	l.Errorf("failed")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Debug message should be filtered at info level: %q", out)
	}
	if !strings.Contains(out, "INFO  | link            | visible 2") {
		t.Errorf("Unexpected info line: %q", out)
	}
	if !strings.Contains(out, "ERROR | link            | failed") {
		t.Errorf("Unexpected error line: %q", out)
	}
}
