// Package configcmder provides the config command for managing persistent
// kdb configuration stored in the .kdb/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent kdb configuration.

Configuration is stored as config.toml in the .kdb/ directory and provides
default values for command flags. CLI flags and KDB_ environment variables
always take precedence over config file values.

Keys use dotted notation matching the TOML section structure, for example:
  vector_store.provider, vector_store.target, vector_store.vector_size,
  record_manager.provider, record_manager.namespace,
  embedding.provider, embedding.model,
  llm.provider, llm.model, llm.context_model_version,
  ingest.concurrency, ingest.max_retries, ingest.failure_policy, ingest.mode

Use subcommands to get, set, or list configuration values:
  kdb config set <key> <value>    Set a configuration value
  kdb config get <key>            Get a configuration value
  kdb config list                 List all configuration values

Examples:
  kdb config set vector_store.provider qdrant
  kdb config set llm.model gpt-4o-mini
  kdb config get ingest.mode
  kdb config list`

const configShortDesc string = "Manage persistent kdb configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
