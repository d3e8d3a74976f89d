package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/litetx/ltxkit/pkg/cache"
	ltxhttp "github.com/litetx/ltxkit/pkg/http"
	"github.com/litetx/ltxkit/pkg/pipeline"
	"github.com/litetx/ltxkit/pkg/util"
)

var (
	runNoCacheFlag  bool
	runCacheDirFlag string
	runS3BucketFlag string
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [job...]",
		Short: "Run pipeline jobs, or every job when none are named",
		RunE:  run,
		Args:  cobra.ArbitraryArgs,
	}
	cmd.Flags().BoolVar(&runNoCacheFlag, "no-cache", false, "Disable the dependency cache")
	cacheDirDefault := util.GetEnvOrDefault("LTXKIT_CACHE_DIR", "", func(s string) (string, error) { return s, nil })
	cmd.Flags().StringVar(&runCacheDirFlag, "cache-dir", cacheDirDefault, "Directory for the local dependency cache")
	cmd.Flags().StringVar(&runS3BucketFlag, "cache-s3-bucket", "", "Store the dependency cache in this S3 bucket instead of on disk")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, projectDir, err := getConfig()
	if err != nil {
		return err
	}

	store, err := cacheStore()
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(cfg, projectDir, store, ltxhttp.ProvideHTTPClient())
	return runner.Run(cmd.Context(), args...)
}

func cacheStore() (cache.Store, error) {
	if runNoCacheFlag {
		return nil, nil
	}
	if runS3BucketFlag != "" {
		return cache.NewS3Store(cache.S3Config{
			Endpoint:        os.Getenv("LTXKIT_S3_ENDPOINT"),
			Region:          os.Getenv("LTXKIT_S3_REGION"),
			AccessKeyID:     os.Getenv("LTXKIT_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("LTXKIT_S3_SECRET_ACCESS_KEY"),
			Bucket:          runS3BucketFlag,
		}), nil
	}
	return cache.NewLocalStore(runCacheDirFlag)
}
