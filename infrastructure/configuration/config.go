package configuration

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"crosspost/infrastructure/logger"

	"github.com/spf13/viper"
)

type Config struct {
	App         App         `json:"app"`
	Database    Database    `json:"database"`
	RedisClient RedisClient `json:"redisClient"`
	ObjectStore ObjectStore `json:"objectStore"`
	Encryption  Encryption  `json:"encryption"`
	Platforms   Platforms   `json:"platforms"`
	Tokens      Tokens      `json:"tokens"`
	Governor    Governor    `json:"governor"`
	Scheduler   Scheduler   `json:"scheduler"`
	Dispatcher  Dispatcher  `json:"dispatcher"`
	Notify      Notify      `json:"notify"`
	Analytics   Analytics   `json:"analytics"`
}

type App struct {
	Env       string `json:"env"`
	SecretKey string `json:"secretKey"`
	// CallbackURL is the externally reachable base the OAuth redirect URIs
	// hang off, e.g. https://app.example.com/connect
	CallbackURL string `json:"callbackURL"`
}

type Db struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	// URL overrides the discrete fields when set.
	URL string `json:"url"`
}

type Database struct {
	Psql  Db `json:"psql"`
	Mongo Db `json:"mongo"`
}

type RedisClient struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	Password     string `json:"password"`
	DatabaseName string `json:"databaseName"`
	Username     string `json:"username"`
}

type ObjectStore struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"` // set for S3-compatible stores (MinIO)
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	UploadTTLSecs   int    `json:"uploadTTLSeconds"`
	DownloadTTLSecs int    `json:"downloadTTLSeconds"`
}

type Encryption struct {
	Passphrase string `json:"passphrase"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
}

type OAuthClient struct {
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	RedirectURI  string   `json:"redirectURI"`
	Scopes       []string `json:"scopes"`
}

// TwitterApp carries the OAuth 1.0a application credentials the chunked
// media upload endpoint still requires: consumer pair plus the app's own
// access token pair.
type TwitterApp struct {
	APIKey            string `json:"apiKey"`
	APISecret         string `json:"apiSecret"`
	AccessToken       string `json:"accessToken"`
	AccessTokenSecret string `json:"accessTokenSecret"`
}

type Platforms struct {
	TikTok     OAuthClient `json:"tiktok"`
	YouTube    OAuthClient `json:"youtube"`
	Twitter    OAuthClient `json:"twitter"`
	TwitterApp TwitterApp  `json:"twitterApp"`
	Instagram  OAuthClient `json:"instagram"`
	Facebook   OAuthClient `json:"facebook"`
}

type Tokens struct {
	SafetyWindowSeconds int `json:"safetyWindowSeconds"`
	SweepMinutes        int `json:"sweepMinutes"`
	SweepHorizonMinutes int `json:"sweepHorizonMinutes"`
}

type Governor struct {
	CooldownHours int `json:"cooldownHours"`
}

type Scheduler struct {
	TickSeconds int `json:"tickSeconds"`
	// TickMS overrides TickSeconds when set; sub-second ticks only matter
	// under test but the env knob is millisecond-denominated.
	TickMS    int `json:"tickMS"`
	BatchSize int `json:"batchSize"`
}

type Dispatcher struct {
	Queue             string `json:"queue"`
	Workers           int    `json:"workers"`
	MaxAttempts       int    `json:"maxAttempts"`
	BaseDelaySeconds  int    `json:"baseDelaySeconds"`
	MaxDelaySeconds   int    `json:"maxDelaySeconds"`
	VisibilitySeconds int    `json:"visibilitySeconds"`
	DedupWindowHours  int    `json:"dedupWindowHours"`
	PublishDeadlineMS int    `json:"publishDeadlineMS"`
}

type Pubsub struct {
	ProjectID string `json:"projectID"`
	Topic     string `json:"topic"`
}

type ServiceBus struct {
	Namespace string `json:"namespace"`
	Queue     string `json:"queue"`
}

type Notify struct {
	Pubsub     Pubsub     `json:"pubsub"`
	ServiceBus ServiceBus `json:"serviceBus"`
}

type Analytics struct {
	SweepHours int    `json:"sweepHours"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// Load reads config[-ENV].json from the usual paths, lets environment
// variables override the sensitive fields, and fills defaults. Callers own
// the returned struct; nothing is kept in package state.
func Load() (*Config, error) {
	name := configName()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found, relying on environment")
		} else {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		logger.GetLogger().WithField("config", name).Info("Config set up successfully")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("viper unable to decode into struct: %w", err)
	}

	applyAppEnv(&cfg)
	applyDatabaseEnv(&cfg)
	applyRedisEnv(&cfg)
	applyObjectStoreEnv(&cfg)
	applyEncryptionEnv(&cfg)
	applyPlatformEnv(&cfg)
	applyTuningEnv(&cfg)
	applyDefaults(&cfg)

	if cfg.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; OAuth state signing will fail. Provide SECRET_KEY via environment.")
	}
	if cfg.Encryption.Passphrase == "" {
		logger.GetLogger().Warn("Encryption.Passphrase not set; token sealing will fail. Provide ENCRYPTION_PASSPHRASE via environment.")
	}

	return &cfg, nil
}

func configName() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func applyAppEnv(cfg *Config) {
	if cfg.App.Env == "" {
		cfg.App.Env = os.Getenv("ENV")
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.App.SecretKey = v
	}
	if v := os.Getenv("CALLBACK_URL"); v != "" {
		cfg.App.CallbackURL = v
	}
}

func applyDatabaseEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Psql.URL = v
	}
	if cfg.Database.Psql.Name == "" {
		cfg.Database.Psql.Name = os.Getenv("DB_NAME")
	}
	if cfg.Database.Psql.Host == "" {
		cfg.Database.Psql.Host = os.Getenv("DB_HOST")
	}
	if cfg.Database.Psql.User == "" {
		cfg.Database.Psql.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Psql.Password == "" {
		cfg.Database.Psql.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.Database.Psql.Port == "" {
		cfg.Database.Psql.Port = os.Getenv("DB_PORT")
	}

	if v := os.Getenv("MONGO_URL"); v != "" {
		cfg.Database.Mongo.URL = v
	}
	if cfg.Database.Mongo.Host == "" {
		cfg.Database.Mongo.Host = os.Getenv("MONGO_HOST")
	}
	if cfg.Database.Mongo.Port == "" {
		cfg.Database.Mongo.Port = os.Getenv("MONGO_PORT")
	}
	if cfg.Database.Mongo.User == "" {
		cfg.Database.Mongo.User = os.Getenv("MONGO_USER")
	}
	if cfg.Database.Mongo.Password == "" {
		cfg.Database.Mongo.Password = os.Getenv("MONGO_PASSWORD")
	}
}

func applyRedisEnv(cfg *Config) {
	// JOB_BROKER_URL wins outright: a full redis:// URL carried in Host is
	// understood by the client factory.
	if v := os.Getenv("JOB_BROKER_URL"); v != "" {
		cfg.RedisClient.Host = v
		return
	}
	if cfg.RedisClient.Host == "" {
		cfg.RedisClient.Host = os.Getenv("REDIS_HOST")
	}
	if cfg.RedisClient.Port == "" {
		cfg.RedisClient.Port = os.Getenv("REDIS_PORT")
	}
	if cfg.RedisClient.Password == "" {
		cfg.RedisClient.Password = os.Getenv("REDIS_PASSWORD")
	}
	if cfg.RedisClient.Username == "" {
		cfg.RedisClient.Username = os.Getenv("REDIS_USERNAME")
	}
}

func applyObjectStoreEnv(cfg *Config) {
	if cfg.ObjectStore.Bucket == "" {
		cfg.ObjectStore.Bucket = os.Getenv("S3_BUCKET")
	}
	if cfg.ObjectStore.Region == "" {
		cfg.ObjectStore.Region = os.Getenv("AWS_REGION")
	}
	if cfg.ObjectStore.Endpoint == "" {
		cfg.ObjectStore.Endpoint = os.Getenv("S3_ENDPOINT")
	}
	if cfg.ObjectStore.AccessKeyID == "" {
		cfg.ObjectStore.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if cfg.ObjectStore.SecretAccessKey == "" {
		cfg.ObjectStore.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
}

func applyEncryptionEnv(cfg *Config) {
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.Encryption.Passphrase = v
	}
	if v := os.Getenv("ENCRYPTION_PASSPHRASE"); v != "" {
		cfg.Encryption.Passphrase = v
	}
	if v := os.Getenv("ENCRYPTION_SALT"); v != "" {
		cfg.Encryption.Salt = v
	}
	if v := os.Getenv("ENCRYPTION_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Encryption.Iterations = n
		}
	}
}

func applyPlatformEnv(cfg *Config) {
	p := &cfg.Platforms
	p.TikTok.ClientID = configValue(p.TikTok.ClientID, "TIKTOK_CLIENT_KEY", "")
	p.TikTok.ClientSecret = configValue(p.TikTok.ClientSecret, "TIKTOK_CLIENT_SECRET", "")
	p.YouTube.ClientID = configValue(p.YouTube.ClientID, "YOUTUBE_CLIENT_ID", "")
	p.YouTube.ClientSecret = configValue(p.YouTube.ClientSecret, "YOUTUBE_CLIENT_SECRET", "")
	p.Twitter.ClientID = configValue(p.Twitter.ClientID, "TWITTER_CLIENT_ID", "")
	p.Twitter.ClientSecret = configValue(p.Twitter.ClientSecret, "TWITTER_CLIENT_SECRET", "")
	p.TwitterApp.APIKey = configValue(p.TwitterApp.APIKey, "TWITTER_API_KEY", "")
	p.TwitterApp.APISecret = configValue(p.TwitterApp.APISecret, "TWITTER_API_SECRET", "")
	p.TwitterApp.AccessToken = configValue(p.TwitterApp.AccessToken, "TWITTER_ACCESS_TOKEN", "")
	p.TwitterApp.AccessTokenSecret = configValue(p.TwitterApp.AccessTokenSecret, "TWITTER_ACCESS_TOKEN_SECRET", "")
	p.Instagram.ClientID = configValue(p.Instagram.ClientID, "INSTAGRAM_CLIENT_ID", "")
	p.Instagram.ClientSecret = configValue(p.Instagram.ClientSecret, "INSTAGRAM_CLIENT_SECRET", "")
	p.Facebook.ClientID = configValue(p.Facebook.ClientID, "FACEBOOK_CLIENT_ID", "")
	p.Facebook.ClientSecret = configValue(p.Facebook.ClientSecret, "FACEBOOK_CLIENT_SECRET", "")

	// Redirect URIs default to <callback-base>/<platform>/callback.
	base := strings.TrimRight(cfg.App.CallbackURL, "/")
	if base != "" {
		defaultRedirect := func(name string) string {
			return fmt.Sprintf("%s/%s/callback", base, name)
		}
		if p.TikTok.RedirectURI == "" {
			p.TikTok.RedirectURI = defaultRedirect("tiktok")
		}
		if p.YouTube.RedirectURI == "" {
			p.YouTube.RedirectURI = defaultRedirect("youtube")
		}
		if p.Twitter.RedirectURI == "" {
			p.Twitter.RedirectURI = defaultRedirect("twitter")
		}
		if p.Instagram.RedirectURI == "" {
			p.Instagram.RedirectURI = defaultRedirect("instagram")
		}
		if p.Facebook.RedirectURI == "" {
			p.Facebook.RedirectURI = defaultRedirect("facebook")
		}
	}
}

// applyTuningEnv reads the operational knobs. Each one has a sane default,
// so malformed values are dropped rather than failing startup.
func applyTuningEnv(cfg *Config) {
	if n, ok := envInt("SCHEDULER_TICK_MS"); ok {
		cfg.Scheduler.TickMS = n
	}
	if n, ok := envInt("DISPATCHER_CONCURRENCY"); ok {
		cfg.Dispatcher.Workers = n
	}
	if n, ok := envInt("PUBLISH_DEADLINE_MS"); ok {
		cfg.Dispatcher.PublishDeadlineMS = n
	}
	if n, ok := envInt("REPOST_COOLDOWN_HOURS"); ok {
		cfg.Governor.CooldownHours = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logger.GetLogger().WithField("key", key).Warn("Ignoring non-positive or malformed value")
		return 0, false
	}
	return n, true
}

func applyDefaults(cfg *Config) {
	if cfg.Encryption.Iterations < 100_000 {
		cfg.Encryption.Iterations = 120_000
	}
	if cfg.ObjectStore.UploadTTLSecs <= 0 {
		cfg.ObjectStore.UploadTTLSecs = 900
	}
	if cfg.ObjectStore.DownloadTTLSecs <= 0 {
		cfg.ObjectStore.DownloadTTLSecs = 3600
	}
	if cfg.Tokens.SafetyWindowSeconds <= 0 {
		cfg.Tokens.SafetyWindowSeconds = 60
	}
	if cfg.Tokens.SweepMinutes <= 0 {
		cfg.Tokens.SweepMinutes = 60
	}
	if cfg.Tokens.SweepHorizonMinutes <= 0 {
		cfg.Tokens.SweepHorizonMinutes = 90
	}
	if cfg.Governor.CooldownHours <= 0 {
		cfg.Governor.CooldownHours = 24
	}
	if cfg.Scheduler.TickSeconds <= 0 {
		cfg.Scheduler.TickSeconds = 30
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 50
	}
	if cfg.Dispatcher.Queue == "" {
		cfg.Dispatcher.Queue = "post-jobs"
	}
	if cfg.Dispatcher.Workers <= 0 {
		cfg.Dispatcher.Workers = 4
	}
	if cfg.Dispatcher.MaxAttempts <= 0 {
		cfg.Dispatcher.MaxAttempts = 5
	}
	if cfg.Dispatcher.BaseDelaySeconds <= 0 {
		cfg.Dispatcher.BaseDelaySeconds = 30
	}
	if cfg.Dispatcher.MaxDelaySeconds <= 0 {
		cfg.Dispatcher.MaxDelaySeconds = 900
	}
	if cfg.Dispatcher.VisibilitySeconds <= 0 {
		cfg.Dispatcher.VisibilitySeconds = 600
	}
	if cfg.Dispatcher.DedupWindowHours <= 0 {
		cfg.Dispatcher.DedupWindowHours = 24
	}
	if cfg.Dispatcher.PublishDeadlineMS <= 0 {
		cfg.Dispatcher.PublishDeadlineMS = 1_800_000
	}
	if cfg.Analytics.SweepHours <= 0 {
		cfg.Analytics.SweepHours = 6
	}
	if cfg.Analytics.Database == "" {
		cfg.Analytics.Database = "crosspost"
	}
	if cfg.Analytics.Collection == "" {
		cfg.Analytics.Collection = "stat_snapshots"
	}
}

// configValue prefers the environment variable, then the config file value
// (ignoring YOUR_* placeholders), then the default.
func configValue(configured, envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if configured != "" && !strings.HasPrefix(configured, "YOUR_") {
		return configured
	}
	return defaultValue
}

// PostgresURL renders a lib/pq connection string, preferring the explicit URL.
func (d Db) PostgresURL() string {
	if d.URL != "" {
		return d.URL
	}
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	port := d.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", d.User, d.Password, host, port, d.Name)
}

// MongoURI renders a mongodb connection string, preferring the explicit URL.
func (d Db) MongoURI() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Host == "" {
		return ""
	}
	port := d.Port
	if port == "" {
		port = "27017"
	}
	if d.User != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%s", d.User, d.Password, d.Host, port)
	}
	return fmt.Sprintf("mongodb://%s:%s", d.Host, port)
}

// Addr renders host:port for the redis client.
func (r RedisClient) Addr() string {
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return host + ":" + port
}

// DB parses the numeric redis database index; empty means 0.
func (r RedisClient) DB() int {
	if r.DatabaseName == "" {
		return 0
	}
	n, err := strconv.Atoi(r.DatabaseName)
	if err != nil {
		return 0
	}
	return n
}

func (s Scheduler) Tick() time.Duration {
	if s.TickMS > 0 {
		return time.Duration(s.TickMS) * time.Millisecond
	}
	return time.Duration(s.TickSeconds) * time.Second
}

func (d Dispatcher) BaseDelay() time.Duration {
	return time.Duration(d.BaseDelaySeconds) * time.Second
}
func (d Dispatcher) PublishDeadline() time.Duration {
	return time.Duration(d.PublishDeadlineMS) * time.Millisecond
}
func (d Dispatcher) MaxDelay() time.Duration { return time.Duration(d.MaxDelaySeconds) * time.Second }
func (d Dispatcher) Visibility() time.Duration {
	return time.Duration(d.VisibilitySeconds) * time.Second
}
func (d Dispatcher) DedupWindow() time.Duration {
	return time.Duration(d.DedupWindowHours) * time.Hour
}

func (g Governor) Cooldown() time.Duration { return time.Duration(g.CooldownHours) * time.Hour }

func (t Tokens) SafetyWindow() time.Duration {
	return time.Duration(t.SafetyWindowSeconds) * time.Second
}
func (t Tokens) SweepEvery() time.Duration { return time.Duration(t.SweepMinutes) * time.Minute }
func (t Tokens) SweepHorizon() time.Duration {
	return time.Duration(t.SweepHorizonMinutes) * time.Minute
}

func (o ObjectStore) UploadTTL() time.Duration {
	return time.Duration(o.UploadTTLSecs) * time.Second
}
func (o ObjectStore) DownloadTTL() time.Duration {
	return time.Duration(o.DownloadTTLSecs) * time.Second
}

func (a Analytics) SweepEvery() time.Duration { return time.Duration(a.SweepHours) * time.Hour }
