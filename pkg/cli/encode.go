package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/litetx/ltxkit/pkg/ltx"
	"github.com/litetx/ltxkit/pkg/util/console"
)

var (
	encodeOutputFlag   string
	encodeCompressFlag bool
)

func newEncodeDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode-db <db>",
		Short: "Encode a SQLite database into a snapshot transaction file",
		RunE:  encodeDB,
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVarP(&encodeOutputFlag, "output", "o", "", "Output path, defaults to <db>.ltx")
	cmd.Flags().BoolVarP(&encodeCompressFlag, "compress", "c", false, "LZ4-compress the page data")
	return cmd
}

func encodeDB(cmd *cobra.Command, args []string) error {
	dbPath := args[0]
	outputPath := encodeOutputFlag
	if outputPath == "" {
		outputPath = dbPath + ".ltx"
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, trailer, err := ltx.EncodeDB(f, dbPath, encodeCompressFlag)
	if err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("encode %s: %w", dbPath, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	console.Infof("Wrote %s", outputPath)
	console.Infof("txid=%s postApplyChecksum=%s", hdr.MaxTXID, trailer.PostApplyChecksum)
	return nil
}
