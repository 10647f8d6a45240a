package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/spf13/cobra"
)

func newTestCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test", Run: func(*cobra.Command, []string) {}}
	SetupFlags(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := BindCommandFlags(cmd); err != nil {
		t.Fatalf("bind flags: %v", err)
	}
	return cmd
}

func TestGetConfigDefaults(t *testing.T) {
	cfg, err := GetConfig(newTestCommand(t))
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	want := common.DefaultConfig()
	if cfg.String() != want.String() {
		t.Errorf("default config differs:\n%s\nwant:\n%s", cfg.String(), want.String())
	}
}

func TestGetConfigFlagsOverrideFile(t *testing.T) {
	fileCfg := common.DefaultConfig()
	fileCfg.Transport.Endpoint = "file:1234"
	fileCfg.Pool.MaxThreads = 7
	fileCfg.Connection.RequestTimeout = 3 * time.Second

	path := filepath.Join(t.TempDir(), "dmsg.toml")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := toml.NewEncoder(f).Encode(fileCfg); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	cmd := newTestCommand(t, "--config", path, "--endpoint", "flag:5678", "--send-buffer", "8", "--dispatch", "inline")
	cfg, err := GetConfig(cmd)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}

	if cfg.Transport.Endpoint != "flag:5678" {
		t.Errorf("endpoint = %q, want the flag value", cfg.Transport.Endpoint)
	}
	if cfg.Pool.MaxThreads != 7 {
		t.Errorf("max threads = %d, want the file value 7", cfg.Pool.MaxThreads)
	}
	if cfg.Connection.RequestTimeout != 3*time.Second {
		t.Errorf("request timeout = %s, want the file value 3s", cfg.Connection.RequestTimeout)
	}
	if cfg.Connection.SendBufferSize != 8*1024 {
		t.Errorf("send buffer = %d, want 8 KB", cfg.Connection.SendBufferSize)
	}
	if cfg.Connection.Dispatch != common.DispatchInline {
		t.Errorf("dispatch = %q, want inline", cfg.Connection.Dispatch)
	}
}

func TestGetConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"dispatch", []string{"--dispatch", "threads"}},
		{"security", []string{"--security", "maybe"}},
		{"pool", []string{"--pool-min-threads", "8", "--pool-max-threads", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := GetConfig(newTestCommand(t, tt.args...)); err == nil {
				t.Errorf("GetConfig(%v) succeeded, want error", tt.args)
			}
		})
	}
}

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line %q longer than %d characters", line, Wrap)
		}
	}
}
