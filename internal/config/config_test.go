package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadClientDefaults(t *testing.T) {
	cfg := LoadClient()

	require.Equal(t, "gated", cfg.Policy)
	require.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	require.Equal(t, 0.2, cfg.BlinkEARThreshold)
	require.Equal(t, 500*time.Millisecond, cfg.BlinkDebounce)
	require.Equal(t, 4*time.Second, cfg.RecordDuration)
	require.Equal(t, 2*time.Second, cfg.NavigationDelay)
	require.True(t, cfg.RequireCentering)
}

func TestLoadClientOverrides(t *testing.T) {
	t.Setenv("KYC_LIVENESS_POLICY", "timed")
	t.Setenv("KYC_POLL_INTERVAL", "250ms")
	t.Setenv("KYC_BLINK_EAR_THRESHOLD", "0.25")
	t.Setenv("KYC_REQUIRE_CENTERING", "false")
	t.Setenv("KYC_API_BASE_URL", "http://api.local/")
	t.Setenv("CAPTURE_FPS", "not-a-number")

	cfg := LoadClient()

	require.Equal(t, "timed", cfg.Policy)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	require.Equal(t, 0.25, cfg.BlinkEARThreshold)
	require.False(t, cfg.RequireCentering)
	require.Equal(t, "http://api.local", cfg.APIBaseURL)
	require.Equal(t, 15, cfg.CaptureFPS)
}

func TestLoadEnvFilesDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("KYC_PROFILE=from-file\nKYC_EVIDENCE=video\n"), 0o600))

	t.Setenv("KYC_PROFILE", "from-env")
	t.Setenv("KYC_EVIDENCE", "")
	require.NoError(t, os.Unsetenv("KYC_EVIDENCE"))
	t.Cleanup(func() { os.Unsetenv("KYC_EVIDENCE") })

	require.NoError(t, LoadEnvFiles(path, filepath.Join(dir, "missing.env"), ""))

	cfg := LoadClient()
	require.Equal(t, "from-env", cfg.Profile)
	require.Equal(t, "video", cfg.Evidence)
}

func TestLoadDevAPI(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("JWT_TTL", "2h")
	t.Setenv("MAX_UPLOAD_SIZE", "1024")
	t.Setenv("LANDMARK_SERVICE_ADDR", "")

	cfg := LoadDevAPI()

	require.Equal(t, "postgres", cfg.DatabaseDriver)
	require.Equal(t, 2*time.Hour, cfg.TokenTTL)
	require.EqualValues(t, 1024, cfg.MaxUploadSize)
	require.Equal(t, "memory", cfg.CacheBackend)
	require.Empty(t, cfg.LandmarkAddr)
	require.Equal(t, 0.5, cfg.MinFaceScore)
}
