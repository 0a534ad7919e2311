package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const defaultHouseAccount int64 = 6217166646

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string

	BotToken    string
	BotUsername string

	AdminIDs     AdminSet
	HouseAccount int64

	CommunityGroup  string
	ChannelGroup    string
	CommunityChatID int64
	CommunityURL    string
	ChannelURL      string
	TwitterURL      string
	DepositAddress  string
	CheckInRate     string

	MembershipSettleDelay time.Duration
	ConversionPacing      time.Duration
	RequestTTL            time.Duration
	CommunityCooldown     time.Duration

	DailyResetCron  string
	OutboxRetryCron string

	AdminHTTPAddr     string
	AdminAPIToken     string
	AdminAllowedCIDRs []string

	RateLimitPerSecond float64
	RateLimitBurst     int

	LogLevel  string
	LogFormat string
}

// AdminSet is the explicit set of user ids allowed to settle transactions.
type AdminSet map[int64]struct{}

func NewAdminSet(ids ...int64) AdminSet {
	s := make(AdminSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s AdminSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in no particular order.
func (s AdminSet) IDs() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using system environment variables")
	}

	house := getEnvInt64("HOUSE_ACCOUNT_ID", defaultHouseAccount)

	return &Config{
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "checkin_bot"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		BotUsername: getEnv("BOT_USERNAME", "CheckInTonBot"),

		AdminIDs:     NewAdminSet(getEnvInt64List("ADMIN_IDS", []int64{house})...),
		HouseAccount: house,

		CommunityGroup:  getEnv("COMMUNITY_GROUP", "@checkin_community"),
		ChannelGroup:    getEnv("CHANNEL_GROUP", "@checkin_channel"),
		CommunityChatID: getEnvInt64("COMMUNITY_CHAT_ID", -1002238223800),
		CommunityURL:    getEnv("COMMUNITY_URL", "https://t.me/checkin_community"),
		ChannelURL:      getEnv("CHANNEL_URL", "https://t.me/checkin_channel"),
		TwitterURL:      getEnv("TWITTER_URL", "https://x.com/checkin_ton"),
		DepositAddress:  getEnv("DEPOSIT_ADDRESS", "EQCNf27tpqndaNIEMPi7z3ttXVL8atP0RE2so3anxmhtA1xl"),
		CheckInRate:     getEnv("CHECKIN_RATE", "0.02"),

		MembershipSettleDelay: getEnvDuration("MEMBERSHIP_SETTLE_DELAY", 3*time.Second),
		ConversionPacing:      getEnvDuration("CONVERSION_PACING", 3*time.Second),
		RequestTTL:            getEnvDuration("REQUEST_TTL", 15*time.Minute),
		CommunityCooldown:     getEnvDuration("COMMUNITY_COOLDOWN", time.Hour),

		DailyResetCron:  getEnv("DAILY_RESET_CRON", "0 0 * * *"),
		OutboxRetryCron: getEnv("OUTBOX_RETRY_CRON", "@every 1m"),

		AdminHTTPAddr:     getEnv("ADMIN_HTTP_ADDR", ":8080"),
		AdminAPIToken:     getEnv("ADMIN_API_TOKEN", ""),
		AdminAllowedCIDRs: getEnvList("ADMIN_ALLOWED_CIDRS", []string{"127.0.0.1/32", "::1/128"}),

		RateLimitPerSecond: getEnvFloat("RATE_LIMIT_PER_SECOND", 2),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 5),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil && v >= 0 {
		return v
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvInt64List(key string, fallback []int64) []int64 {
	var out []int64
	for _, part := range getEnvList(key, nil) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			logrus.WithField("key", key).Warnf("Ignoring invalid id %q", part)
			continue
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
