package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-s3-upload/internal/config"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/executor"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/logger"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/manifest"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/metrics"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/policy"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/report"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/transfer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strict-s3-upload <LocalDir> <S3Uri>",
		Short: "Upload a directory to S3 with retries, multipart transfers and optional public access",
		Long: `strict-s3-upload uploads every selected file of a local directory to an S3
prefix. Large files are sent as SHA-256 checked multipart uploads, failed
files are retried, and with --public the prefix is added to the bucket's
public read statements afterwards.`,
		Version:      fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         runUpload,
	}
	config.RegisterFlags(rootCmd)

	grantCmd := &cobra.Command{
		Use:   "grant <S3Uri>",
		Short: "Add an S3 prefix or object to the bucket's public read statements",
		Args:  cobra.ExactArgs(1),
		RunE:  runGrant,
	}
	grantCmd.Flags().Bool("object", false, "Grant a single object instead of a directory prefix")
	rootCmd.AddCommand(grantCmd)

	return rootCmd
}

func newLogger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	return logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Quiet:  cfg.Quiet,
		JSON:   cfg.LogJSON,
		Writer: cmd.ErrOrStderr(),
	})
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cmd, cfg)

	localDir := args[0]
	bucket, prefix, err := s3client.ParseS3URI(args[1])
	if err != nil {
		return err
	}

	src := manifest.Options{
		Root:      localDir,
		Pattern:   cfg.Pattern,
		Excludes:  cfg.Excludes,
		Recursive: cfg.Recursive,
		Prefix:    prefix,
	}
	if cfg.Naming == config.NamingRelative {
		src.NameFunc = manifest.RelativeName(localDir)
	}
	if cfg.HasSizeFilter() {
		src.Predicate = manifest.SizeBetween(cfg.MinSize, cfg.MaxSize)
		src.PredicateDesc = manifest.DescribeSizeBetween(cfg.MinSize, cfg.MaxSize)
	}

	session, err := executor.NewSession(bucket, cfg.Public, src)
	if err != nil {
		return fmt.Errorf("failed to build manifest: %w", err)
	}
	log.Debug().Str("session", session.ID).Int("files", len(session.Manifest())).Str("filter", src.Describe()).Msg("manifest built")

	if cfg.PlanJSONFile != "" {
		if err := report.Write(cfg.PlanJSONFile, report.BuildPlan(session)); err != nil {
			return fmt.Errorf("failed to write plan JSON: %w", err)
		}
	}

	if cfg.DryRun {
		if !cfg.Quiet {
			printPlan(cmd.OutOrStdout(), session)
		}
		return nil
	}

	ctx := context.Background()

	var m *metrics.Metrics
	if cfg.MetricsFile != "" {
		m = metrics.New()
	}

	client, err := s3client.NewAWSClient(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	opts := []executor.Option{
		executor.WithClient(client),
		executor.WithLogger(log),
		executor.WithMaxAttempts(cfg.MaxAttempts),
		executor.WithPartSize(cfg.PartSize),
		executor.WithGranter(policy.NewMutator(client,
			policy.WithStatementIDs(cfg.GetStatementID, cfg.ListStatementID),
			policy.WithLogger(log),
		)),
	}
	if m != nil {
		opts = append(opts, executor.WithMetrics(m))
	}

	exec, err := executor.New(ctx, opts...)
	if err != nil {
		return err
	}

	var runErr error
	if cfg.Concurrency == 0 {
		_, runErr = exec.RunSequential(ctx, session)
	} else {
		_, runErr = exec.RunParallel(ctx, session, cfg.Concurrency)
	}
	if runErr != nil {
		return runErr
	}

	if cfg.ResultJSONFile != "" {
		if err := report.Write(cfg.ResultJSONFile, report.BuildResult(session)); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}
	if m != nil {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			return err
		}
	}

	if failures := session.Failures(); len(failures) > 0 {
		return fmt.Errorf("%d of %d uploads failed", len(failures), len(session.Outcomes()))
	}
	if cfg.Public && session.AccessLevel() != executor.AccessPublic {
		return fmt.Errorf("failed to make s3://%s/%s public: %s", bucket, session.Prefix(), session.AccessError())
	}

	return nil
}

func printPlan(w io.Writer, s *executor.Session) {
	for _, e := range s.Manifest() {
		method := "upload"
		if e.Size >= transfer.MultipartThreshold {
			method = "multipart upload"
		}
		fmt.Fprintf(w, "(dryrun) %s: %s to %s\n", method, e.LocalPath, s3client.FormatS3Path(s.Bucket, e.RemoteKey))
	}
}

func runGrant(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cmd, cfg)

	asObject, _ := cmd.Flags().GetBool("object")

	bucket, _, err := s3client.ParseS3URI(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := s3client.NewAWSClient(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	mutator := policy.NewMutator(client,
		policy.WithStatementIDs(cfg.GetStatementID, cfg.ListStatementID),
		policy.WithLogger(log),
	)
	doc, err := mutator.GrantPublic(ctx, args[0], bucket, !asObject)
	if err != nil {
		return err
	}

	if !cfg.Quiet {
		out, err := doc.Pretty()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return nil
}
