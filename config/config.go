// Package config loads process configuration from the environment,
// following the same getEnv/getEnvAsInt/getEnvAsBool convention the
// platform has always used, extended with the credential-platform keys.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration. Each service binary (cmd/)
// loads the whole struct and uses only the sections it needs.
type Config struct {
	Server      ServerConfig
	DB          DBConfig
	Redis       RedisConfig
	Ledger      LedgerConfig
	DLQ         DLQConfig
	Policy      PolicyConfig
	KeyMgr      KeyManagerConfig
	Session     SessionConfig
	JWT         JWTConfig
	Identity    IdentityConfig
	Logging     LoggingConfig
	Environment string
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	FrontendBaseURL string
}

type DBConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LedgerConfig struct {
	Mode     string // "file" | "external"
	FilePath string
	Fabric   FabricConfig
}

// FabricConfig names the Hyperledger Fabric gateway peer and chaincode
// LedgerConfig.Mode="external" anchors commitments against.
type FabricConfig struct {
	MspID         string
	CertPath      string
	KeyPath       string
	TLSCertPath   string
	PeerEndpoint  string
	GatewayPeer   string
	ChannelName   string
	ChaincodeName string
}

type DLQConfig struct {
	Enabled       bool
	MaxAttempts   int
	BackoffBaseMs int
	BackoffMaxMs  int
	JitterPct     float64
	TopicSuffix   string
}

type PolicyConfig struct {
	// Minimums maps policyId -> minimum acceptable semver, parsed from
	// a comma-separated "policyId=version" list, e.g.
	// "age_over_18=1.2.0,residency_eu=2.0.0".
	Minimums map[string]string
}

type KeyManagerConfig struct {
	GracePeriod time.Duration
}

type SessionConfig struct {
	TTL time.Duration
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type IdentityConfig struct {
	Providers []string
}

type LoggingConfig struct {
	Level string
	JSON  bool
}

var current *Config

// Load reads the environment once and caches the result, mirroring the
// teacher's singleton config pattern.
func Load() *Config {
	if current != nil {
		return current
	}
	current = &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			FrontendBaseURL: getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),
		},
		DB: DBConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Name:         getEnv("DB_NAME", "agecred"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Ledger: LedgerConfig{
			Mode:     getEnv("LEDGER_MODE", "file"),
			FilePath: getEnv("LEDGER_FILE_PATH", "./data/ledger.json"),
			Fabric: FabricConfig{
				MspID:         getEnv("LEDGER_FABRIC_MSP_ID", "Org1MSP"),
				CertPath:      getEnv("LEDGER_FABRIC_CERT_PATH", ""),
				KeyPath:       getEnv("LEDGER_FABRIC_KEY_PATH", ""),
				TLSCertPath:   getEnv("LEDGER_FABRIC_TLS_CERT_PATH", ""),
				PeerEndpoint:  getEnv("LEDGER_FABRIC_PEER_ENDPOINT", "localhost:7051"),
				GatewayPeer:   getEnv("LEDGER_FABRIC_GATEWAY_PEER", "peer0.org1.example.com"),
				ChannelName:   getEnv("LEDGER_FABRIC_CHANNEL", "credential-channel"),
				ChaincodeName: getEnv("LEDGER_FABRIC_CHAINCODE", "anchorcc"),
			},
		},
		DLQ: DLQConfig{
			Enabled:       getEnvAsBool("DLQ_ENABLED", true),
			MaxAttempts:   getEnvAsInt("DLQ_MAX_ATTEMPTS", 5),
			BackoffBaseMs: getEnvAsInt("DLQ_BACKOFF_BASE_MS", 200),
			BackoffMaxMs:  getEnvAsInt("DLQ_BACKOFF_MAX_MS", 30000),
			JitterPct:     getEnvAsFloat("DLQ_JITTER_PCT", 0.2),
			TopicSuffix:   getEnv("DLQ_TOPIC_SUFFIX", ".DLQ"),
		},
		Policy: PolicyConfig{
			Minimums: getEnvAsStringMap("POLICY_MINIMUMS"),
		},
		KeyMgr: KeyManagerConfig{
			GracePeriod: getEnvAsDuration("KEY_MANAGER_GRACE_PERIOD", 720*time.Hour),
		},
		Session: SessionConfig{
			TTL: getEnvAsDuration("SESSION_TTL", 10*time.Minute),
		},
		JWT: JWTConfig{
			Secret: getJWTSecret(),
			Issuer: getEnv("JWT_ISSUER", "agecred-platform"),
		},
		Identity: IdentityConfig{
			Providers: getEnvAsStringSlice("IDENTITY_PROVIDERS", []string{"demo-eid"}),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			JSON:  getEnvAsBool("LOG_JSON", true),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
	}
	return current
}

// getJWTSecret mirrors the teacher's support for a `file:`-prefixed
// secret path, falling back to the raw env var.
func getJWTSecret() string {
	v := getEnv("JWT_SECRET", "")
	if strings.HasPrefix(v, "file:") {
		path := strings.TrimPrefix(v, "file:")
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	if v == "" {
		return "development-only-secret-change-me"
	}
	return v
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvAsStringSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return fallback
}

func getEnvAsStringMap(key string) map[string]string {
	out := map[string]string{}
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return out
	}
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}
