package cli

import (
	"github.com/spf13/cobra"

	"github.com/litetx/ltxkit/pkg/artifact"
	ltxhttp "github.com/litetx/ltxkit/pkg/http"
	"github.com/litetx/ltxkit/pkg/util/console"
)

func newFetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [job...]",
		Short: "Pre-download the pinned binaries the configured jobs depend on",
		RunE:  fetch,
		Args:  cobra.ArbitraryArgs,
	}
}

func fetch(cmd *cobra.Command, args []string) error {
	cfg, _, err := getConfig()
	if err != nil {
		return err
	}

	jobNames := args
	if len(jobNames) == 0 {
		jobNames = cfg.JobNames()
	}

	client := ltxhttp.ProvideHTTPClient()
	fetched := 0
	for _, name := range jobNames {
		job, ok := cfg.Jobs[name]
		if !ok {
			console.Warnf("No such job: %s", name)
			continue
		}
		if job.Artifact == nil {
			continue
		}
		a, err := artifact.FromConfig(job.Artifact)
		if err != nil {
			return err
		}
		if err := artifact.Install(cmd.Context(), client, a); err != nil {
			return err
		}
		fetched++
	}

	if fetched == 0 {
		console.Info("No jobs declare artifacts, nothing to fetch")
	}
	return nil
}
