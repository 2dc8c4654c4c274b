// Package secrets resolves named credentials once per process.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Well-known secret names.
const (
	UpstreamToken = "upstream-token"
	APIToken      = "api-token"
	GeoAPIToken   = "geo-api-token"
)

// ErrNotFound is returned when a provider has no value for a name.
var ErrNotFound = errors.New("secret not found")

// Provider fetches a secret value by name.
type Provider interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// EnvProvider reads secrets from environment variables named
// Prefix + NAME, with dashes turned into underscores.
type EnvProvider struct {
	Prefix string
}

func (p EnvProvider) Fetch(_ context.Context, name string) (string, error) {
	key := p.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s (env %s)", ErrNotFound, name, key)
	}
	return v, nil
}

// FileProvider reads secrets from Dir/<name>, e.g. mounted container secrets.
type FileProvider struct {
	Dir string
}

func (p FileProvider) Fetch(_ context.Context, name string) (string, error) {
	if strings.ContainsAny(name, `/\`) || name == ".." {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	b, err := os.ReadFile(filepath.Join(p.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return "", fmt.Errorf("%w: %s (empty file)", ErrNotFound, name)
	}
	return v, nil
}

// Chain tries each provider in order and returns the first hit.
type Chain []Provider

func (c Chain) Fetch(ctx context.Context, name string) (string, error) {
	var errs []error
	for _, p := range c {
		v, err := p.Fetch(ctx, name)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return "", errors.Join(errs...)
}

// Cache memoizes provider lookups for the life of the process. Failed
// lookups are not cached.
type Cache struct {
	provider Provider

	mu     sync.RWMutex
	values map[string]string
}

// NewCache wraps provider with a per-process cache.
func NewCache(provider Provider) *Cache {
	return &Cache{provider: provider, values: make(map[string]string)}
}

// Get returns the cached value for name, fetching it on first use.
func (c *Cache) Get(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	v, ok := c.values[name]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[name]; ok {
		return v, nil
	}

	v, err := c.provider.Fetch(ctx, name)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	c.values[name] = v
	return v, nil
}

// Invalidate drops name so the next Get refetches it.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.values, name)
	c.mu.Unlock()
}

// Source returns a func bound to name, suitable wherever a token getter is
// expected.
func (c *Cache) Source(name string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return c.Get(ctx, name)
	}
}

// NewProvider builds the provider named by kind ("env", "file" or "env+file").
func NewProvider(kind, envPrefix, dir string) (Provider, error) {
	switch kind {
	case "", "env":
		return EnvProvider{Prefix: envPrefix}, nil
	case "file":
		if dir == "" {
			return nil, errors.New("secrets: file provider needs a directory")
		}
		return FileProvider{Dir: dir}, nil
	case "env+file":
		if dir == "" {
			return nil, errors.New("secrets: file provider needs a directory")
		}
		return Chain{EnvProvider{Prefix: envPrefix}, FileProvider{Dir: dir}}, nil
	default:
		return nil, fmt.Errorf("secrets: unknown provider %q", kind)
	}
}
