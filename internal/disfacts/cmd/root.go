package cmd

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"disfacts/internal/config"
	"disfacts/internal/disfacts/log"
)

type rootOptions struct {
	configPath string
	debug      bool
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "disfacts",
		Short: "Decode machine code into relational facts",
		Long: `disfacts decodes the executable regions of ELF, PE and manifest modules
into instruction, operand and metadata relations for a Datalog engine.`,
		Example: `
# Decode a binary and print the batch summary
disfacts decode ./libfoo.so

# Decode a batch manifest, keeping the relations as text files
disfacts decode --debug-dir ./facts batch.yaml

# Print the listing rebuilt from the decoded facts
disfacts render ./libfoo.so
  `,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.Setup(opts.debug)
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file (default $"+config.EnvPath+")")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "Debug logging")

	root.AddCommand(
		newDecodeCmd(opts),
		newRenderCmd(opts),
		newRelationsCmd(),
		newSchemaCmd(),
	)
	return root
}

func Execute() {
	rootCmd := newRootCmd()
	defer log.Close()

	// fang renders help and errors as styled markdown; skip it when piped
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
