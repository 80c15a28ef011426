package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"consent-button/go-backend/internal/messaging"
	"consent-button/go-backend/internal/waku"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration after defaults, the yaml file and
// CONSENT_* environment overrides have been layered in that order.
type Config struct {
	Network      waku.Config
	Environments map[string]messaging.Environment
	Consent      ConsentConfig
	Publish      PublishConfig
	Storage      StorageConfig
	RPC          RPCConfig
	Redis        RedisConfig
	Log          LogConfig
}

type ConsentConfig struct {
	NetworkEnvironment     string
	Label                  string
	AllowEphemeralIdentity bool
	// Mnemonic restores a persistent sender identity. Env only.
	Mnemonic string
	// WalletURL is an EIP-1193 JSON-RPC endpoint; PeerAddress, when set,
	// replaces the wallet prompt with a fixed account.
	WalletURL   string
	PeerAddress string
}

type PublishConfig struct {
	RPS   float64
	Burst int
}

type StorageConfig struct {
	Dir    string
	Secret string
}

type RPCConfig struct {
	Addr         string
	Token        string
	RateLimitRPS float64
	RateBurst    int
	EventHistory int
}

type RedisConfig struct {
	Addr   string
	Stream string
}

type LogConfig struct {
	Level string
}

func Default() Config {
	return Config{
		Network:      waku.DefaultConfig(),
		Environments: messaging.DefaultEnvironments(),
		Consent: ConsentConfig{
			NetworkEnvironment:     messaging.EnvProduction,
			Label:                  "Subscribe with your wallet",
			AllowEphemeralIdentity: true,
		},
		Publish: PublishConfig{RPS: 2, Burst: 5},
		RPC: RPCConfig{
			Addr:         "127.0.0.1:8787",
			RateLimitRPS: 5,
			RateBurst:    10,
			EventHistory: 256,
		},
		Redis: RedisConfig{Stream: "consent:events"},
		Log:   LogConfig{Level: "info"},
	}
}

// fileConfig mirrors the yaml layout. Pointers distinguish "absent" from
// zero values so the file only overrides what it sets.
type fileConfig struct {
	Network      fileNetwork                `yaml:"network"`
	Environments map[string]fileEnvironment `yaml:"environments"`
	Consent      fileConsent                `yaml:"consent"`
	Publish      filePublish                `yaml:"publish"`
	Storage      fileStorage                `yaml:"storage"`
	RPC          fileRPC                    `yaml:"rpc"`
	Redis        fileRedis                  `yaml:"redis"`
	Log          fileLog                    `yaml:"log"`
}

type fileNetwork struct {
	Transport           string        `yaml:"transport"`
	Port                int           `yaml:"port"`
	EnableRelay         *bool         `yaml:"enableRelay"`
	EnableStore         *bool         `yaml:"enableStore"`
	EnableFilter        *bool         `yaml:"enableFilter"`
	EnableLightPush     *bool         `yaml:"enableLightPush"`
	BootstrapNodes      []string      `yaml:"bootstrapNodes"`
	FailoverV1          *bool         `yaml:"failoverV1"`
	MinPeers            int           `yaml:"minPeers"`
	StoreQueryFanout    int           `yaml:"storeQueryFanout"`
	StoreQueryLimit     int           `yaml:"storeQueryLimit"`
	ReconnectInterval   time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax time.Duration `yaml:"reconnectBackoffMax"`
	PubsubTopic         string        `yaml:"pubsubTopic"`
	ContentTopic        string        `yaml:"contentTopic"`
}

type fileEnvironment struct {
	BootstrapNodes []string `yaml:"bootstrapNodes"`
	MinPeers       *int     `yaml:"minPeers"`
	ContentTopic   string   `yaml:"contentTopic"`
}

type fileConsent struct {
	NetworkEnvironment     string `yaml:"networkEnvironment"`
	Label                  string `yaml:"label"`
	AllowEphemeralIdentity *bool  `yaml:"allowEphemeralIdentity"`
	WalletURL              string `yaml:"walletURL"`
	PeerAddress            string `yaml:"peerAddress"`
}

type filePublish struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type fileStorage struct {
	Dir string `yaml:"dir"`
}

type fileRPC struct {
	Addr         string  `yaml:"addr"`
	RateLimitRPS float64 `yaml:"rateLimitRPS"`
	RateBurst    int     `yaml:"rateBurst"`
	EventHistory int     `yaml:"eventHistory"`
}

type fileRedis struct {
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
}

type fileLog struct {
	Level string `yaml:"level"`
}

// Load builds the configuration. With an explicit path the file must exist
// and parse; without one the default candidates are tried and skipped
// silently when absent.
func Load(configPath string) (Config, error) {
	cfg := Default()

	candidates := []string{"configs/config.yaml", "go-backend/configs/config.yaml"}
	if configPath != "" {
		candidates = []string{configPath}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Merge(dst *Config, src fileConfig) {
	mergeNetwork(&dst.Network, src.Network)
	for name, env := range src.Environments {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		cur := dst.Environments[name]
		cur.Name = name
		if env.BootstrapNodes != nil {
			cur.BootstrapNodes = append([]string(nil), env.BootstrapNodes...)
		}
		if env.MinPeers != nil {
			cur.MinPeers = messaging.MinPeersOf(*env.MinPeers)
		}
		if env.ContentTopic != "" {
			cur.ContentTopic = env.ContentTopic
		}
		if dst.Environments == nil {
			dst.Environments = make(map[string]messaging.Environment)
		}
		dst.Environments[name] = cur
	}

	c := src.Consent
	setString(&dst.Consent.NetworkEnvironment, c.NetworkEnvironment)
	setString(&dst.Consent.Label, c.Label)
	if c.AllowEphemeralIdentity != nil {
		dst.Consent.AllowEphemeralIdentity = *c.AllowEphemeralIdentity
	}
	setString(&dst.Consent.WalletURL, c.WalletURL)
	setString(&dst.Consent.PeerAddress, c.PeerAddress)

	if src.Publish.RPS != 0 {
		dst.Publish.RPS = src.Publish.RPS
	}
	if src.Publish.Burst != 0 {
		dst.Publish.Burst = src.Publish.Burst
	}
	setString(&dst.Storage.Dir, src.Storage.Dir)

	setString(&dst.RPC.Addr, src.RPC.Addr)
	if src.RPC.RateLimitRPS != 0 {
		dst.RPC.RateLimitRPS = src.RPC.RateLimitRPS
	}
	if src.RPC.RateBurst != 0 {
		dst.RPC.RateBurst = src.RPC.RateBurst
	}
	if src.RPC.EventHistory != 0 {
		dst.RPC.EventHistory = src.RPC.EventHistory
	}
	setString(&dst.Redis.Addr, src.Redis.Addr)
	setString(&dst.Redis.Stream, src.Redis.Stream)
	setString(&dst.Log.Level, src.Log.Level)
}

func mergeNetwork(dst *waku.Config, src fileNetwork) {
	setString(&dst.Transport, src.Transport)
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.EnableRelay != nil {
		dst.EnableRelay = *src.EnableRelay
	}
	if src.EnableStore != nil {
		dst.EnableStore = *src.EnableStore
	}
	if src.EnableFilter != nil {
		dst.EnableFilter = *src.EnableFilter
	}
	if src.EnableLightPush != nil {
		dst.EnableLightPush = *src.EnableLightPush
	}
	if src.BootstrapNodes != nil {
		dst.BootstrapNodes = append([]string(nil), src.BootstrapNodes...)
	}
	if src.FailoverV1 != nil {
		dst.FailoverV1 = *src.FailoverV1
	}
	if src.MinPeers != 0 {
		dst.MinPeers = src.MinPeers
	}
	if src.StoreQueryFanout != 0 {
		dst.StoreQueryFanout = src.StoreQueryFanout
	}
	if src.StoreQueryLimit != 0 {
		dst.StoreQueryLimit = src.StoreQueryLimit
	}
	if src.ReconnectInterval != 0 {
		dst.ReconnectInterval = src.ReconnectInterval
	}
	if src.ReconnectBackoffMax != 0 {
		dst.ReconnectBackoffMax = src.ReconnectBackoffMax
	}
	setString(&dst.PubsubTopic, src.PubsubTopic)
	setString(&dst.ContentTopic, src.ContentTopic)
}

// envOverrides is decoded by envdecode. Booleans are strings so an unset
// variable is distinguishable from "false".
type envOverrides struct {
	Transport          string  `env:"CONSENT_NETWORK_TRANSPORT"`
	FailoverV1         string  `env:"CONSENT_NETWORK_FAILOVER_V1"`
	BootstrapNodes     string  `env:"CONSENT_NETWORK_BOOTSTRAP_NODES"`
	NetworkEnvironment string  `env:"CONSENT_NETWORK_ENVIRONMENT"`
	Label              string  `env:"CONSENT_LABEL"`
	AllowEphemeral     string  `env:"CONSENT_ALLOW_EPHEMERAL_IDENTITY"`
	Mnemonic           string  `env:"CONSENT_IDENTITY_MNEMONIC"`
	WalletURL          string  `env:"CONSENT_WALLET_URL"`
	PeerAddress        string  `env:"CONSENT_PEER_ADDRESS"`
	StorageDir         string  `env:"CONSENT_STORAGE_DIR"`
	StorageSecret      string  `env:"CONSENT_STORAGE_SECRET"`
	RPCAddr            string  `env:"CONSENT_RPC_ADDR"`
	RPCToken           string  `env:"CONSENT_RPC_TOKEN"`
	RPCRateLimitRPS    float64 `env:"CONSENT_RPC_RATE_LIMIT_RPS"`
	RedisAddr          string  `env:"CONSENT_REDIS_ADDR"`
	RedisStream        string  `env:"CONSENT_REDIS_STREAM"`
	LogLevel           string  `env:"CONSENT_LOG_LEVEL"`
}

func ApplyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("decode CONSENT_* environment: %w", err)
	}

	setString(&cfg.Network.Transport, env.Transport)
	if v, ok := parseBool(env.FailoverV1); ok {
		cfg.Network.FailoverV1 = v
	}
	if nodes := splitCSV(env.BootstrapNodes); nodes != nil {
		cfg.Network.BootstrapNodes = nodes
	}
	setString(&cfg.Consent.NetworkEnvironment, env.NetworkEnvironment)
	setString(&cfg.Consent.Label, env.Label)
	if v, ok := parseBool(env.AllowEphemeral); ok {
		cfg.Consent.AllowEphemeralIdentity = v
	}
	setString(&cfg.Consent.Mnemonic, env.Mnemonic)
	setString(&cfg.Consent.WalletURL, env.WalletURL)
	setString(&cfg.Consent.PeerAddress, env.PeerAddress)
	setString(&cfg.Storage.Dir, env.StorageDir)
	setString(&cfg.Storage.Secret, env.StorageSecret)
	setString(&cfg.RPC.Addr, env.RPCAddr)
	setString(&cfg.RPC.Token, env.RPCToken)
	if env.RPCRateLimitRPS > 0 {
		cfg.RPC.RateLimitRPS = env.RPCRateLimitRPS
	}
	setString(&cfg.Redis.Addr, env.RedisAddr)
	setString(&cfg.Redis.Stream, env.RedisStream)
	setString(&cfg.Log.Level, env.LogLevel)
	return nil
}

// Messaging derives the messaging client configuration.
func (c Config) Messaging() messaging.Config {
	return messaging.Config{
		Waku:         c.Network,
		Environments: c.Environments,
		PublishRPS:   c.Publish.RPS,
		PublishBurst: c.Publish.Burst,
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
