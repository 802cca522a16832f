// Package initcmder provides the init command for initializing a local .kdb
// directory with a preset config.toml.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/kdb/pkg/cliui"
	"github.com/papercomputeco/kdb/pkg/config"
)

const (
	dirName = ".kdb"
)

type initCommander struct {
	preset string
	force  bool
}

const initLongDesc string = `Initialize a new .kdb/ directory in the current working directory.

Creates a local .kdb/ directory that takes precedence over the default
~/.kdb/ directory, and writes a config.toml from a preset:

  ollama     local embeddings and context generation through Ollama (default)
  openai     OpenAI embeddings and context generation
  anthropic  Anthropic context generation with Ollama embeddings

An existing config.toml is kept unless --force is given.

Examples:
  kdb init
  kdb init --preset openai
  kdb init --config-dir /srv/kdb --preset anthropic --force`

const initShortDesc string = "Initialize a local .kdb/ directory"

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return cmder.run(cmd.OutOrStdout(), configDir)
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "ollama",
		"Config preset ("+strings.Join(config.ValidPresetNames(), ", ")+")")
	cmd.Flags().BoolVar(&cmder.force, "force", false, "Overwrite an existing config.toml")

	return cmd
}

func (c *initCommander) run(w io.Writer, configDir string) error {
	cfg, err := config.PresetConfig(c.preset)
	if err != nil {
		return err
	}

	dir := configDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .kdb directory: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return err
	}

	_, err = os.Stat(cfger.GetTarget())
	switch {
	case err == nil && !c.force:
		fmt.Fprintf(w, "Already initialized: %s\n", dir)
		return nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("checking config: %w", err)
	}

	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintf(w, "  %s Initialized %s %s\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(dir),
		cliui.DimStyle.Render("(preset "+c.preset+")"),
	)
	return nil
}
