package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/litetx/ltxkit/pkg/ltx"
	"github.com/litetx/ltxkit/pkg/util/console"
)

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <ltx-file> [ltx-file...]",
		Short: "Check the integrity of transaction files",
		RunE:  verify,
		Args:  cobra.MinimumNArgs(1),
	}
}

func verify(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		if err := verifyFile(path); err != nil {
			return err
		}
	}
	return nil
}

func verifyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, trailer, err := ltx.Verify(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	console.Infof("%s: ok txid=%s-%s postApplyChecksum=%s", path, hdr.MinTXID, hdr.MaxTXID, trailer.PostApplyChecksum)
	return nil
}
