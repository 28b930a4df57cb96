package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"agent-router/internal/config"
	"agent-router/internal/metrics"
	"agent-router/internal/model"
)

// ConsulDirectory reads agent and device records stored as JSON values in
// Consul KV under <prefix>/agents/<subdomain> and <prefix>/devices/<id>.
type ConsulDirectory struct {
	kv      *consulapi.KV
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewConsulDirectory creates a ConsulDirectory. Unset address and token fall
// back to the CONSUL_HTTP_ADDR and CONSUL_HTTP_TOKEN environment variables.
func NewConsulDirectory(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ConsulDirectory, error) {
	ccfg := consulapi.DefaultConfig()
	if cfg.Registry.Consul.Address != "" {
		ccfg.Address = cfg.Registry.Consul.Address
	}
	if cfg.Registry.Consul.Token != "" {
		ccfg.Token = cfg.Registry.Consul.Token
	}

	client, err := consulapi.NewClient(ccfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}

	return &ConsulDirectory{
		kv:      client.KV(),
		prefix:  strings.TrimSuffix(cfg.Registry.Consul.Prefix, "/"),
		timeout: time.Duration(cfg.Registry.TimeoutSeconds) * time.Second,
		logger:  logger.With("component", "registry_consul"),
		metrics: m,
	}, nil
}

// LookupEntry reads the agent record for subdomain.
func (d *ConsulDirectory) LookupEntry(ctx context.Context, subdomain string) (entry *model.RoutingEntry, err error) {
	start := time.Now()
	defer func() { observe(d.metrics, StageEntry, start, err) }()

	body, err := d.get(ctx, "agents", subdomain)
	if err != nil {
		return nil, err
	}
	return decodeEntry(subdomain, body)
}

// LookupBackend reads the device record for id.
func (d *ConsulDirectory) LookupBackend(ctx context.Context, id string) (backend *model.BackendEndpoint, err error) {
	start := time.Now()
	defer func() { observe(d.metrics, StageBackend, start, err) }()

	body, err := d.get(ctx, "devices", id)
	if err != nil {
		return nil, err
	}
	return decodeBackend(id, body)
}

// get returns the value stored under prefix/kind/name, or nil when the key
// does not exist.
func (d *ConsulDirectory) get(ctx context.Context, kind, name string) ([]byte, error) {
	// Names become a single key segment.
	if name == "" || strings.ContainsAny(name, "/?#") {
		return nil, nil
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	key := d.prefix + "/" + kind + "/" + name
	d.logger.Debug("consul kv get", "key", key)

	pair, _, err := d.kv.Get(key, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: consul get %s: %w", ErrLookupTransport, key, err)
	}
	if pair == nil || len(pair.Value) == 0 {
		return nil, nil
	}
	return pair.Value, nil
}
