// Package vectorutils builds a vector.Driver from configuration.
package vectorutils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/vector"
	"github.com/papercomputeco/kdb/pkg/vector/chroma"
	"github.com/papercomputeco/kdb/pkg/vector/inmemory"
	"github.com/papercomputeco/kdb/pkg/vector/pgvector"
	"github.com/papercomputeco/kdb/pkg/vector/qdrant"
	"github.com/papercomputeco/kdb/pkg/vector/redis"
	"github.com/papercomputeco/kdb/pkg/vector/sqlitevec"
)

const (
	PGVector = "pgvector"
	Redis    = "redis"
	Chroma   = "chroma"
	Qdrant   = "qdrant"
	SQLite   = "sqlite"
	Memory   = "memory"
)

type NewVectorDriverOpts struct {
	ProviderType string

	// TargetURL is the provider specific address: a Postgres connection
	// string, a redis:// URL, the Chroma endpoint, the Qdrant host:port or
	// the SQLite database path.
	TargetURL string

	// APIKey authenticates against Qdrant and Chroma Cloud.
	APIKey string

	// Tenant and Database are Chroma only.
	Tenant   string
	Database string

	Logger *zap.Logger
}

// NewVectorDriver returns the driver for o.ProviderType.
func NewVectorDriver(o *NewVectorDriverOpts) (vector.Driver, error) {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(o.ProviderType) {
	case PGVector, "postgres":
		return pgvector.NewDriver(pgvector.Config{ConnStr: o.TargetURL}, logger)
	case Redis:
		return redis.NewDriver(redis.Config{URL: o.TargetURL}, logger)
	case Chroma:
		return chroma.NewDriver(chroma.Config{
			URL:      o.TargetURL,
			APIKey:   o.APIKey,
			Tenant:   o.Tenant,
			Database: o.Database,
		}, logger)
	case Qdrant:
		return qdrant.NewDriver(qdrant.Config{Addr: o.TargetURL, APIKey: o.APIKey}, logger)
	case SQLite:
		return sqlitevec.NewDriver(sqlitevec.Config{DBPath: o.TargetURL}, logger)
	case Memory:
		return inmemory.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}

// SupportedProviders lists the provider names NewVectorDriver accepts.
func SupportedProviders() []string {
	return []string{PGVector, Redis, Chroma, Qdrant, SQLite, Memory}
}
