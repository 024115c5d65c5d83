package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidatesWithKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "k"
	require.NoError(t, cfg.Validate())

	last := cfg.Ladder[len(cfg.Ladder)-1]
	assert.False(t, last.UseSearchTool, "last ladder step must be tool-free")
	assert.Equal(t, 40, cfg.Persistence.MaxTurns)
	assert.Equal(t, 5*time.Minute, cfg.GetFreshnessWindow())
	assert.Equal(t, 3*time.Second, cfg.GetInjuryTimeout())
	assert.Equal(t, 5*time.Minute, cfg.GetInjuryTTL())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
}

func TestLoadOverridesLadderAndNumbersSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courtside.yaml")
	content := `
ladder:
  - max_evidence_turns: 8
    max_instruction_chars: 9000
    use_search_tool: true
  - max_evidence_turns: 1
    max_instruction_chars: 2000
    use_search_tool: false
assembler:
  live_chars: 500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Ladder, 2)
	assert.Equal(t, 1, cfg.Ladder[0].AttemptNumber)
	assert.Equal(t, 2, cfg.Ladder[1].AttemptNumber)
	assert.Equal(t, 9000, cfg.Ladder[0].MaxInstructionChars)
	assert.Equal(t, 500, cfg.Assembler.LiveChars)
	// untouched sections keep defaults
	assert.Equal(t, 2400, cfg.Assembler.AuxChars)
}

func TestValidateRejectsSearchOnLastStep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "k"
	cfg.Ladder[len(cfg.Ladder)-1].UseSearchTool = true
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Run("GEMINI_API_KEY wins over GOOGLE_API_KEY", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "google")
		t.Setenv("GEMINI_API_KEY", "gemini")

		cfg := &Config{}
		cfg.applyEnvOverrides()
		assert.Equal(t, "gemini", cfg.Model.APIKey)
	})

	t.Run("paths and addresses", func(t *testing.T) {
		t.Setenv("COURTSIDE_DB", "/tmp/x.db")
		t.Setenv("COURTSIDE_ADDR", ":9999")
		t.Setenv("COURTSIDE_URL", "http://example")

		cfg := &Config{}
		cfg.applyEnvOverrides()
		assert.Equal(t, "/tmp/x.db", cfg.Store.DatabasePath)
		assert.Equal(t, ":9999", cfg.Server.Addr)
		assert.Equal(t, "http://example", cfg.Client.BaseURL)
	})
}

func TestGetClientTimeoutsClampsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Client.Jitter = 1.5
	cfg.Client.MaxRetries = -2
	cfg.Client.BaseDelay = "2s"
	cfg.Client.MaxDelay = "1s"

	ct := cfg.GetClientTimeouts()
	assert.Equal(t, 0, ct.MaxRetries)
	assert.Equal(t, 0.2, ct.Jitter)
	assert.Equal(t, 2*time.Second, ct.MaxDelay)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "c.yaml")
	cfg := DefaultConfig()
	cfg.Assembler.Timezone = "UTC"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loaded.GetLocation())
	assert.Equal(t, cfg.Ladder, loaded.Ladder)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assembler:\n  live_chars: 100\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case changes <- c:
			default:
			}
		})
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("assembler:\n  live_chars: 777\n"), 0644))

	// A single write can surface as several events (truncate, then write).
	deadline := time.After(5 * time.Second)
	for seen := false; !seen; {
		select {
		case c := <-changes:
			seen = c.Assembler.LiveChars == 777
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}

	cancel()
	require.NoError(t, <-done)
}
