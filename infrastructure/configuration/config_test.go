package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)

	require.Equal(t, 30, cfg.Scheduler.TickSeconds)
	require.Equal(t, 50, cfg.Scheduler.BatchSize)
	require.Equal(t, 4, cfg.Dispatcher.Workers)
	require.Equal(t, 5, cfg.Dispatcher.MaxAttempts)
	require.Equal(t, 30*time.Second, cfg.Dispatcher.BaseDelay())
	require.Equal(t, 15*time.Minute, cfg.Dispatcher.MaxDelay())
	require.Equal(t, 24*time.Hour, cfg.Governor.Cooldown())
	require.Equal(t, time.Minute, cfg.Tokens.SafetyWindow())
	require.Equal(t, "post-jobs", cfg.Dispatcher.Queue)
	require.Equal(t, 30*time.Minute, cfg.Dispatcher.PublishDeadline())
}

func TestApplyTuningEnv(t *testing.T) {
	t.Setenv("SCHEDULER_TICK_MS", "500")
	t.Setenv("DISPATCHER_CONCURRENCY", "8")
	t.Setenv("PUBLISH_DEADLINE_MS", "60000")
	t.Setenv("REPOST_COOLDOWN_HOURS", "not-a-number")

	var cfg Config
	applyTuningEnv(&cfg)
	applyDefaults(&cfg)

	require.Equal(t, 500*time.Millisecond, cfg.Scheduler.Tick())
	require.Equal(t, 8, cfg.Dispatcher.Workers)
	require.Equal(t, time.Minute, cfg.Dispatcher.PublishDeadline())
	require.Equal(t, 24*time.Hour, cfg.Governor.Cooldown())
}

func TestJobBrokerURLOverridesRedisHost(t *testing.T) {
	t.Setenv("JOB_BROKER_URL", "redis://broker:6390/2")

	var cfg Config
	applyRedisEnv(&cfg)
	require.Equal(t, "redis://broker:6390/2", cfg.RedisClient.Host)
}

func TestEncryptionKeyAlias(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "from-key")

	var cfg Config
	applyEncryptionEnv(&cfg)
	require.Equal(t, "from-key", cfg.Encryption.Passphrase)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Scheduler:  Scheduler{TickSeconds: 10, BatchSize: 5},
		Dispatcher: Dispatcher{Workers: 1, MaxAttempts: 2},
		Governor:   Governor{CooldownHours: 48},
		Encryption: Encryption{Iterations: 200_000},
	}
	applyDefaults(&cfg)

	require.Equal(t, 10*time.Second, cfg.Scheduler.Tick())
	require.Equal(t, 5, cfg.Scheduler.BatchSize)
	require.Equal(t, 1, cfg.Dispatcher.Workers)
	require.Equal(t, 2, cfg.Dispatcher.MaxAttempts)
	require.Equal(t, 48*time.Hour, cfg.Governor.Cooldown())
	require.Equal(t, 200_000, cfg.Encryption.Iterations)
}

func TestApplyDefaultsRaisesWeakIterations(t *testing.T) {
	cfg := Config{Encryption: Encryption{Iterations: 1000}}
	applyDefaults(&cfg)
	require.GreaterOrEqual(t, cfg.Encryption.Iterations, 100_000)
}

func TestPostgresURL(t *testing.T) {
	d := Db{Name: "crosspost", Host: "db", Port: "5433", User: "app", Password: "pw"}
	require.Equal(t, "postgres://app:pw@db:5433/crosspost?sslmode=disable", d.PostgresURL())

	d.URL = "postgres://override"
	require.Equal(t, "postgres://override", d.PostgresURL())
}

func TestRedisAddr(t *testing.T) {
	require.Equal(t, "localhost:6379", RedisClient{}.Addr())
	require.Equal(t, "cache:6380", RedisClient{Host: "cache", Port: "6380"}.Addr())
	require.Equal(t, 3, RedisClient{DatabaseName: "3"}.DB())
	require.Equal(t, 0, RedisClient{DatabaseName: "junk"}.DB())
}

func TestPlatformEnvOverrides(t *testing.T) {
	t.Setenv("TIKTOK_CLIENT_KEY", "ck-from-env")
	t.Setenv("TWITTER_API_KEY", "app-key")

	cfg := Config{App: App{CallbackURL: "https://app.example.com/connect/"}}
	applyPlatformEnv(&cfg)

	require.Equal(t, "ck-from-env", cfg.Platforms.TikTok.ClientID)
	require.Equal(t, "app-key", cfg.Platforms.TwitterApp.APIKey)
	require.Equal(t, "https://app.example.com/connect/tiktok/callback", cfg.Platforms.TikTok.RedirectURI)
	require.Equal(t, "https://app.example.com/connect/youtube/callback", cfg.Platforms.YouTube.RedirectURI)
}

func TestConfigValueIgnoresPlaceholders(t *testing.T) {
	require.Equal(t, "fallback", configValue("YOUR_CLIENT_ID", "UNSET_ENV_KEY_FOR_TEST", "fallback"))
	require.Equal(t, "configured", configValue("configured", "UNSET_ENV_KEY_FOR_TEST", "fallback"))
}

func TestLoadEnvFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.env")
	content := "# comment\nFOO_FROM_FILE=bar\nexport QUOTED_FROM_FILE=\"baz\"\nIGNORED_NO_EQUALS\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("FOO_FROM_FILE", "already-set")
	LoadEnvFromFile(path)

	require.Equal(t, "already-set", os.Getenv("FOO_FROM_FILE"), "existing env must win")
	require.Equal(t, "baz", os.Getenv("QUOTED_FROM_FILE"))
	t.Cleanup(func() { os.Unsetenv("QUOTED_FROM_FILE") })
}
