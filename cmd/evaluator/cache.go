package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/app"
	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
)

// --- evaluator cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry count and age range",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached keys, newest first",
	Args:    cobra.NoArgs,
	RunE:    runCacheList,
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a cached response body",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheGet,
}

var cacheRmCmd = &cobra.Command{
	Use:     "rm <key>",
	Aliases: []string{"delete"},
	Short:   "Remove one cached response",
	Args:    cobra.ExactArgs(1),
	RunE:    runCacheRm,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached response",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheListCmd.Flags().IntP("limit", "n", 50, "Maximum keys to list (0 = all)")
	cacheClearCmd.Flags().Bool("force", false, "Confirm removal of all entries")

	cacheCmd.AddCommand(cacheStatsCmd, cacheListCmd, cacheGetCmd, cacheRmCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

// openCache builds the app and fails when caching is disabled
func openCache(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	if a.CacheBackend == nil {
		_ = a.Close()
		return nil, apperrors.NewConfigurationError("response cache is disabled (CACHE_BACKEND=none)", nil)
	}
	return a, nil
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	a, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.CacheBackend.Stats(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backend: %s\n", a.Config.Cache.Backend)
	fmt.Fprintf(out, "Entries: %d\n", stats.Count)
	if stats.Count > 0 {
		fmt.Fprintf(out, "Oldest:  %s\n", stats.Oldest.Format(time.RFC3339))
		fmt.Fprintf(out, "Newest:  %s\n", stats.Newest.Format(time.RFC3339))
	}
	return nil
}

func runCacheList(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	a, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.CacheBackend.Keys(cmd.Context(), limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tSTATUS\tKEY")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", k.Timestamp.Format(time.RFC3339), k.Status, k.Key)
	}
	return tw.Flush()
}

func runCacheGet(cmd *cobra.Command, args []string) error {
	a, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entry, ok, err := a.CacheBackend.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no cached response for key %s", args[0])
	}
	_, err = cmd.OutOrStdout().Write(append(entry.Payload, '\n'))
	return err
}

func runCacheRm(cmd *cobra.Command, args []string) error {
	a, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.CacheBackend.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("no cached response for key %s", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	if force, _ := cmd.Flags().GetBool("force"); !force {
		return fmt.Errorf("refusing to clear the cache without --force")
	}

	a, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.CacheBackend.Clear(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", n)
	return nil
}
