package cli

import (
	"github.com/spf13/cobra"

	"github.com/litetx/ltxkit/pkg/ltx"
	"github.com/litetx/ltxkit/pkg/util/console"
)

var applyDBFlag string

func newApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <ltx-file> [ltx-file...]",
		Short: "Apply transaction files to a SQLite database, in order",
		RunE:  apply,
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.Flags().StringVar(&applyDBFlag, "db", "", "Database to apply the transactions to")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func apply(cmd *cobra.Command, args []string) error {
	pos, err := ltx.ApplyLTX(applyDBFlag, args)
	if err != nil {
		return err
	}
	console.Infof("Applied %d file(s) to %s", len(args), applyDBFlag)
	console.Output(pos.String())
	return nil
}
