package messaging

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"consent-button/go-backend/internal/waku"

	ma "github.com/multiformats/go-multiaddr"
)

const (
	EnvProduction = "production"
	EnvDev        = "dev"
	EnvLocal      = "local"
)

var ErrUnknownEnvironment = errors.New("unknown network environment")

// Environment holds the network parameters selected by an environment tag.
// A nil MinPeers inherits the base network setting; an explicit 0 clears it.
type Environment struct {
	Name           string   `yaml:"-"`
	BootstrapNodes []string `yaml:"bootstrapNodes"`
	MinPeers       *int     `yaml:"minPeers"`
	ContentTopic   string   `yaml:"contentTopic"`
}

// MinPeersOf returns a MinPeers value for an Environment literal.
func MinPeersOf(n int) *int { return &n }

// DefaultEnvironments lists the built-in tags. Bootstrap nodes are deployment
// specific and come from configuration.
func DefaultEnvironments() map[string]Environment {
	return map[string]Environment{
		EnvProduction: {Name: EnvProduction, MinPeers: MinPeersOf(2), ContentTopic: waku.DefaultContentTopic},
		EnvDev:        {Name: EnvDev, MinPeers: MinPeersOf(1), ContentTopic: "/consent-button/1/consent-record-dev/json"},
		EnvLocal:      {Name: EnvLocal, MinPeers: MinPeersOf(0), ContentTopic: "/consent-button/1/consent-record-local/json"},
	}
}

// EnvironmentNames returns the sorted tags in envs.
func EnvironmentNames(envs map[string]Environment) []string {
	out := make([]string, 0, len(envs))
	for name := range envs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolveEnvironment overlays the environment named tag onto base. Every
// bootstrap address must be a valid multiaddr.
func ResolveEnvironment(envs map[string]Environment, tag string, base waku.Config) (waku.Config, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	env, ok := envs[tag]
	if !ok {
		return waku.Config{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownEnvironment, tag, strings.Join(EnvironmentNames(envs), ", "))
	}
	cfg := base
	if len(env.BootstrapNodes) > 0 {
		nodes := make([]string, 0, len(env.BootstrapNodes))
		for _, raw := range env.BootstrapNodes {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			if _, err := ma.NewMultiaddr(raw); err != nil {
				return waku.Config{}, fmt.Errorf("environment %s: bootstrap node %q: %w", tag, raw, err)
			}
			nodes = append(nodes, raw)
		}
		cfg.BootstrapNodes = nodes
	}
	if env.MinPeers != nil {
		cfg.MinPeers = max(*env.MinPeers, 0)
	}
	if strings.TrimSpace(env.ContentTopic) != "" {
		cfg.ContentTopic = env.ContentTopic
	}
	cfg.BootstrapSource = tag
	return cfg, nil
}
