package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	WebRTC    WebRTCConfig
	Call      CallConfig
	Signaling SignalingConfig
	Zego      ZegoConfig
	LiveKit   LiveKitConfig
	Session   SessionConfig
	AWS       AWSConfig
	Client    ClientConfig
}

// WebRTCConfig holds STUN/TURN ICE servers for WebRTC.
type WebRTCConfig struct {
	ICEUrls        []string // e.g. stun:stun.l.google.com:19302 (comma-separated in env)
	TURNUsername   string   // applied to turn:/turns: urls only
	TURNCredential string
}

// ICEServer is one STUN/TURN entry handed to peers.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Servers groups the configured urls: STUN urls without credentials, TURN urls with them.
func (c WebRTCConfig) Servers() []ICEServer {
	var stun, turn []string
	for _, u := range c.ICEUrls {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			turn = append(turn, u)
		} else {
			stun = append(stun, u)
		}
	}
	var out []ICEServer
	if len(stun) > 0 {
		out = append(out, ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		out = append(out, ICEServer{URLs: turn, Username: c.TURNUsername, Credential: c.TURNCredential})
	}
	return out
}

// CallConfig holds call lifecycle tunables shared by the softphone and tests.
type CallConfig struct {
	PollInterval    time.Duration
	MaxPollFailures int
	QualityInterval time.Duration
	FairPacketLoss  int           // lost packets per sample at which quality drops to fair
	PoorPacketLoss  int           // lost packets per sample at which quality drops to poor
	ConnectTimeout  time.Duration // 0 disables the setup timeout
}

// SignalingConfig selects the envelope store.
type SignalingConfig struct {
	Store          string // "postgres" or "memory"
	RetentionHours int
}

// ZegoConfig holds ZEGOCLOUD credentials for the token endpoint.
type ZegoConfig struct {
	AppID        uint32
	ServerSecret string
}

// LiveKitConfig holds LiveKit server credentials and room defaults.
type LiveKitConfig struct {
	URL             string // wss://... handed to clients
	APIKey          string
	APISecret       string
	TokenTTL        time.Duration
	EmptyTimeout    uint32 // seconds
	MaxParticipants uint32
}

// SessionConfig points at the surrounding application's session-management webhook.
type SessionConfig struct {
	StatusWebhookURL string
	WebhookSecret    string
}

// ClientConfig is read by cmd/softphone.
type ClientConfig struct {
	ServerURL      string
	AuthToken      string
	MicrophoneFile string
	Providers      []string // preference order, raw webrtc is always appended last
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/peerline?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the secret shared with the auth service that issues user tokens.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the diagnostics bucket.
type AWSConfig struct {
	Region            string
	AccessKeyID       string
	SecretAccessKey   string
	DiagnosticsBucket string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	zegoAppID, err := strconv.ParseUint(getEnv("ZEGO_APP_ID", "0"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("ZEGO_APP_ID: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "peerline"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		WebRTC: WebRTCConfig{
			ICEUrls:        splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
			TURNUsername:   getEnv("WEBRTC_TURN_USERNAME", ""),
			TURNCredential: getEnv("WEBRTC_TURN_CREDENTIAL", ""),
		},
		Call: CallConfig{
			PollInterval:    getEnvDuration("CALL_POLL_INTERVAL", time.Second),
			MaxPollFailures: getEnvInt("CALL_MAX_POLL_FAILURES", 3),
			QualityInterval: getEnvDuration("CALL_QUALITY_INTERVAL", 5*time.Second),
			FairPacketLoss:  getEnvInt("CALL_FAIR_PACKET_LOSS", 10),
			PoorPacketLoss:  getEnvInt("CALL_POOR_PACKET_LOSS", 50),
			ConnectTimeout:  getEnvDuration("CALL_CONNECT_TIMEOUT", 30*time.Second),
		},
		Signaling: SignalingConfig{
			Store:          getEnv("SIGNALING_STORE", "postgres"),
			RetentionHours: getEnvInt("SIGNALING_RETENTION_HOURS", 72),
		},
		Zego: ZegoConfig{
			AppID:        uint32(zegoAppID),
			ServerSecret: getEnv("ZEGO_SERVER_SECRET", ""),
		},
		LiveKit: LiveKitConfig{
			URL:             getEnv("LIVEKIT_URL", ""),
			APIKey:          getEnv("LIVEKIT_API_KEY", ""),
			APISecret:       getEnv("LIVEKIT_API_SECRET", ""),
			TokenTTL:        getEnvDuration("LIVEKIT_TOKEN_TTL", time.Hour),
			EmptyTimeout:    uint32(getEnvInt("LIVEKIT_EMPTY_TIMEOUT_SEC", 300)),
			MaxParticipants: uint32(getEnvInt("LIVEKIT_MAX_PARTICIPANTS", 2)),
		},
		Session: SessionConfig{
			StatusWebhookURL: getEnv("SESSION_STATUS_WEBHOOK_URL", ""),
			WebhookSecret:    getEnv("SESSION_WEBHOOK_SECRET", ""),
		},
		AWS: AWSConfig{
			Region:            getEnv("AWS_REGION", ""),
			AccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
			DiagnosticsBucket: getEnv("AWS_S3_DIAGNOSTICS_BUCKET", "peerline-call-diagnostics"),
		},
		Client: ClientConfig{
			ServerURL:      strings.TrimRight(getEnv("PEERLINE_SERVER_URL", "http://localhost:8080"), "/"),
			AuthToken:      getEnv("PEERLINE_AUTH_TOKEN", ""),
			MicrophoneFile: getEnv("PEERLINE_MICROPHONE_FILE", "microphone.ogg"),
			Providers:      splitTrim(getEnv("CALL_PROVIDERS", "zego,livekit"), ","),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
