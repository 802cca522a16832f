// Package stateutils builds a recordmanager.State from configuration.
package stateutils

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/kdb/pkg/recordmanager"
	"github.com/papercomputeco/kdb/pkg/recordmanager/inmemory"
	"github.com/papercomputeco/kdb/pkg/recordmanager/postgres"
	"github.com/papercomputeco/kdb/pkg/recordmanager/sqlite"
)

const (
	Postgres = "postgres"
	SQLite   = "sqlite"
	Memory   = "memory"
)

type NewStateOpts struct {
	ProviderType string

	// TargetURL is a Postgres connection string or a SQLite database path.
	TargetURL string
}

// NewState returns the state backend for o.ProviderType.
func NewState(o *NewStateOpts) (recordmanager.State, error) {
	switch strings.ToLower(o.ProviderType) {
	case Postgres, "pgvector":
		return postgres.NewState(o.TargetURL)
	case SQLite:
		return sqlite.NewState(o.TargetURL)
	case Memory:
		return inmemory.NewState(), nil
	default:
		return nil, fmt.Errorf("unsupported record manager provider: %s", o.ProviderType)
	}
}

// SupportedProviders lists the provider names NewState accepts.
func SupportedProviders() []string {
	return []string{Postgres, SQLite, Memory}
}
