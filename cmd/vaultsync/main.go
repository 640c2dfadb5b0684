// Command vaultsync synchronizes a local note vault with a CouchDB-compatible
// remote document store, bit-compatible with the Obsidian LiveSync plugin's
// chunking and document format.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"vaultsync/internal/config"
	"vaultsync/internal/localindex"
	"vaultsync/internal/logging"
	"vaultsync/internal/pullengine"
	"vaultsync/internal/pushengine"
	"vaultsync/internal/reconciler"
	"vaultsync/internal/remoteindex"
	"vaultsync/internal/transport"
	"vaultsync/internal/verify"
)

// defaultSyncDirs are the top-level vault subtrees synchronized when
// --sync-dir is not given; "." syncs the whole vault.
var defaultSyncDirs = []string{"."}

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "vaultsync",
		Short: "Bidirectional sync between a local vault and a CouchDB-compatible store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			filterHandler.SetVerbose(verbose, slog.LevelDebug)
			return nil
		},
	}

	rootCmd.PersistentFlags().String("vault", ".", "local vault root directory")
	rootCmd.PersistentFlags().StringSlice("sync-dir", nil, "top-level vault subdirectories to sync (default: entire vault)")
	dotenvDefault := ".env"
	if exe, err := os.Executable(); err == nil {
		dotenvDefault = filepath.Join(filepath.Dir(exe), ".env")
	}
	rootCmd.PersistentFlags().String("dotenv", dotenvDefault, "path to a .env file next to the executable (optional)")
	rootCmd.PersistentFlags().String("path", "", "restrict to vault-relative paths matching this prefix or glob")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "raise log verbosity for sync components")

	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Push local vault changes to the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd, logger)
		},
	}
	pushCmd.Flags().Bool("dry-run", false, "report what would be pushed without writing anything")
	pushCmd.Flags().Bool("force", false, "push every matched file regardless of remote mtime")
	pushCmd.Flags().Bool("verify", false, "re-chunk and compare children against the remote doc after pushing")

	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull remote documents into the local vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(cmd, logger)
		},
	}
	pullCmd.Flags().Bool("dry-run", false, "report what would be pulled without writing anything")
	pullCmd.Flags().Bool("changed-only", true, "skip files whose local mtime is already current")
	pullCmd.Flags().Bool("delete-orphans", false, "delete local files with no remote counterpart, pruning empty dirs")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-chunk local files and compare against the remote children list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, logger)
		},
	}
	verifyCmd.Flags().Int("limit", 0, "maximum number of files to check (0 = no limit)")

	rootCmd.AddCommand(pushCmd, pullCmd, verifyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup resolves Config, builds the transport.Client, and produces both
// halves of the path-keyed join the push/pull/verify commands share.
func setup(cmd *cobra.Command, logger *slog.Logger) (vaultRoot string, client *transport.Client, locals map[string]localindex.File, remotes map[string]remoteindex.File, err error) {
	dotenv, _ := cmd.Flags().GetString("dotenv")
	cfg, err := config.Load(dotenv)
	if err != nil {
		return "", nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	vaultRoot, _ = cmd.Flags().GetString("vault")
	vaultRoot, err = filepath.Abs(vaultRoot)
	if err != nil {
		return "", nil, nil, nil, fmt.Errorf("resolve vault root: %w", err)
	}

	syncDirs, _ := cmd.Flags().GetStringSlice("sync-dir")
	if len(syncDirs) == 0 {
		syncDirs = defaultSyncDirs
	}
	pathFilter, _ := cmd.Flags().GetString("path")

	client = transport.New(transport.Config{
		BaseURL:  cfg.CouchDBURI,
		Database: cfg.CouchDBDB,
		User:     cfg.CouchDBUser,
		Password: cfg.CouchDBPassword,
		Logger:   logger,
	})

	var opts []localindex.Option
	if pathFilter != "" {
		opts = append(opts, localindex.WithPathPrefix(pathFilter))
	}
	li := localindex.New(vaultRoot, syncDirs, opts...)
	locals, err = li.Walk()
	if err != nil {
		return "", nil, nil, nil, fmt.Errorf("walk local vault: %w", err)
	}

	ri := remoteindex.New(client, logger)
	remotes, err = ri.Enumerate(cmd.Context())
	if err != nil {
		return "", nil, nil, nil, fmt.Errorf("enumerate remote index: %w", err)
	}

	return vaultRoot, client, locals, remotes, nil
}

func runPush(cmd *cobra.Command, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	cmd.SetContext(ctx)

	_, client, locals, remotes, err := setup(cmd, logger)
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")
	doVerify, _ := cmd.Flags().GetBool("verify")

	engine := pushengine.New(client, os.ReadFile, logger)

	result := engine.Run(ctx, locals, remotes, pushengine.Options{Force: force, DryRun: dryRun})
	fmt.Printf("push: %d pushed, %d skipped, %d errors\n", len(result.Pushed), len(result.Skipped), len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  %v\n", e)
	}

	if doVerify {
		ri := remoteindex.New(client, logger)
		freshRemotes, err := ri.Enumerate(ctx)
		if err != nil {
			return fmt.Errorf("re-enumerate remote index for verify: %w", err)
		}
		vres := verify.Run(locals, freshRemotes, os.ReadFile, 0)
		fmt.Printf("verify: %d checked, %d matched, %d mismatched\n", vres.Checked, vres.Matched, len(vres.Mismatch))
		for _, m := range vres.Mismatch {
			fmt.Fprintf(os.Stderr, "  chunk mismatch: %s\n", m.Path)
		}
	}

	return ctx.Err()
}

func runPull(cmd *cobra.Command, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	cmd.SetContext(ctx)

	vaultRoot, client, locals, remotes, err := setup(cmd, logger)
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	changedOnly, _ := cmd.Flags().GetBool("changed-only")
	deleteOrphans, _ := cmd.Flags().GetBool("delete-orphans")
	pathFilter, _ := cmd.Flags().GetString("path")

	ri := remoteindex.New(client, logger)
	engine := pullengine.New(ri, vaultRoot, logger)

	result, err := engine.Run(ctx, locals, pullengine.Options{Force: !changedOnly, DryRun: dryRun, PathFilter: pathFilter})
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	fmt.Printf("pull: %d pulled, %d skipped, %d errors\n", len(result.Pulled), len(result.Skipped), len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  %v\n", e)
	}

	if deleteOrphans {
		orphans := reconciler.Orphans(locals, remotes)
		if !dryRun {
			errs := reconciler.DeleteOrphans(vaultRoot, locals, orphans)
			fmt.Printf("reconcile: %d orphans deleted, %d errors\n", len(orphans)-len(errs), len(errs))
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "  %v\n", e)
			}
		} else {
			fmt.Printf("reconcile: %d orphans would be deleted\n", len(orphans))
		}
	}

	return ctx.Err()
}

func runVerify(cmd *cobra.Command, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	cmd.SetContext(ctx)

	_, _, locals, remotes, err := setup(cmd, logger)
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	res := verify.Run(locals, remotes, os.ReadFile, limit)

	fmt.Printf("verify: %d checked, %d matched, %d mismatched, %d read errors\n",
		res.Checked, res.Matched, len(res.Mismatch), len(res.ReadError))
	for _, m := range res.Mismatch {
		fmt.Fprintf(os.Stderr, "  chunk mismatch: %s (got %d chunks, remote has %d)\n", m.Path, len(m.Got), len(m.Expected))
	}
	return ctx.Err()
}
