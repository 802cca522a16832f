// Package provisioncmder provides the provision command, which creates the
// vector store collection and the record manager schema.
package provisioncmder

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/cmd/kdb/appflags"
	"github.com/papercomputeco/kdb/pkg/cliui"
	"github.com/papercomputeco/kdb/pkg/config"
)

const provisionLongDesc string = `Provision the vector store and the record manager.

Creates the collection, table or index named by vector_store.name with the
configured vector size, and the record manager state table. Provisioning is
idempotent. An existing collection with a different vector size is reported
as a schema conflict.

Examples:
  kdb provision
  kdb provision --vector-store-provider pgvector --vector-store-target postgres://localhost/kdb`

const provisionShortDesc string = "Create the vector store and state schema"

func NewProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: provisionShortDesc,
		Long:  provisionLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, log, err := appflags.NewApp(cmd, config.IngestFlags)
			defer func() { _ = log.Sync() }()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			vs := a.Config.VectorStore
			rm := a.Config.RecordManager

			if err := cliui.Step(out, fmt.Sprintf("Configuring %s collection %q", vs.Provider, vs.Name), func() error {
				return a.Store.Configure(ctx)
			}); err != nil {
				return err
			}
			if err := cliui.Step(out, fmt.Sprintf("Creating %s record manager schema", rm.Provider), func() error {
				return a.Manager.EnsureSchema(ctx)
			}); err != nil {
				return err
			}

			log.Info("provisioned",
				zap.String("vector_store", vs.Provider),
				zap.String("collection", vs.Name),
				zap.Uint("vector_size", vs.VectorSize),
				zap.String("namespace", rm.Namespace),
			)
			return nil
		},
	}

	appflags.Register(cmd, config.IngestFlags)

	return cmd
}
