package tokenstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ledgerdesk/authkit/tokenstore/driver/file"
	"github.com/ledgerdesk/authkit/tokenstore/driver/redis"
)

// Config selects and configures the persistence driver. It is loadable
// through the config package's env tags.
type Config struct {
	// Driver selects the persistence backend: "file", "redis", or "none".
	Driver string `env:"TOKEN_STORE_DRIVER,default:file"`

	// Path is the token file location for the file driver. Empty picks a
	// per-user default under the OS config directory.
	Path string `env:"TOKEN_PATH"`

	// Redis settings, used by the redis driver.
	RedisURL string        `env:"TOKEN_REDIS_URL"`
	RedisKey string        `env:"TOKEN_REDIS_KEY,default:authkit:token"`
	RedisTTL time.Duration `env:"TOKEN_REDIS_TTL"`
}

// Driver registration functions

func fileRegister(cfg Config) (Driver, error) {
	path := cfg.Path
	if path == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine default token path: %w", err)
		}
		path = filepath.Join(base, "authkit", "token.json")
	}
	return file.New(file.Config{Path: path})
}

func redisRegister(cfg Config) (Driver, error) {
	return redis.New(redis.Config{
		URL: cfg.RedisURL,
		Key: cfg.RedisKey,
		TTL: cfg.RedisTTL,
	})
}

// NewDriver creates the persistence driver selected by cfg. The "none"
// driver disables persistence: the store runs in-memory only.
func NewDriver(cfg Config) (Driver, error) {
	switch cfg.Driver {
	case "file", "":
		return fileRegister(cfg)
	case "redis":
		return redisRegister(cfg)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown token store driver: %s", cfg.Driver)
	}
}
