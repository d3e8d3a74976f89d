package cli

import (
	"github.com/spf13/cobra"

	"github.com/litetx/ltxkit/pkg/ltx"
	"github.com/litetx/ltxkit/pkg/util/console"
)

func newChecksumCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <db>",
		Short: "Print the database checksum of a SQLite file",
		RunE:  checksum,
		Args:  cobra.ExactArgs(1),
	}
}

func checksum(cmd *cobra.Command, args []string) error {
	chksum, err := ltx.ChecksumDB(args[0])
	if err != nil {
		return err
	}
	console.Output(chksum.String())
	return nil
}
