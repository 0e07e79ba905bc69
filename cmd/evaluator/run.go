package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/privacy"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/report"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/security"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/weights"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate users over a time window",
	Long: `Fetches every configured source for each user, scores the events and writes a report.

Users are given as --user id, or --user id:source=handle,... when a user's
account differs between sources, for example --user alice:github=alice-gh.
A team can be listed in a JSON or YAML file passed with --users-file:

  [{"id": "alice", "handles": {"github": "alice-gh"}}, {"id": "bob"}]`,
	Example: "  evaluator run -u alice -u bob:github=bob-dev --start 2024-01-01 --end 2024-03-31 -f md",
	RunE:    runEvaluate,
}

func init() {
	runCmd.Flags().StringArrayP("user", "u", nil, "User to evaluate, repeatable")
	runCmd.Flags().String("users-file", "", "JSON or YAML file listing users to evaluate")
	runCmd.Flags().String("start", "", "Window start date, YYYY-MM-DD (inclusive)")
	runCmd.Flags().String("end", "", "Window end date, YYYY-MM-DD (inclusive)")
	runCmd.Flags().StringP("preset", "p", "", "Weight preset (overrides WEIGHTS_PRESET)")
	runCmd.Flags().StringArrayP("weight", "w", nil, "Weight override dimension=value, repeatable")
	runCmd.Flags().StringP("format", "f", "text", "Report format: json, csv, md, text or html")
	runCmd.Flags().StringP("out-file", "o", "", "Write the report to a file instead of stdout")
	runCmd.Flags().Bool("anonymize", false, "Replace user ids with salted pseudonyms")
	runCmd.Flags().Bool("redact-titles", false, "Replace event titles, implies --anonymize")
	runCmd.Flags().Bool("refresh", false, "Ignore cached responses and refetch (overrides CACHE_REFRESH)")
	runCmd.Flags().Int("concurrency", 0, "Parallel fetches (overrides CONCURRENCY)")

	runCmd.MarkFlagsOneRequired("user", "users-file")

	rootCmd.AddCommand(runCmd)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	userValues, _ := cmd.Flags().GetStringArray("user")
	usersFile, _ := cmd.Flags().GetString("users-file")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	preset, _ := cmd.Flags().GetString("preset")
	weightPairs, _ := cmd.Flags().GetStringArray("weight")
	formatName, _ := cmd.Flags().GetString("format")
	outFile, _ := cmd.Flags().GetString("out-file")
	anonymize, _ := cmd.Flags().GetBool("anonymize")
	redactTitles, _ := cmd.Flags().GetBool("redact-titles")
	refresh, _ := cmd.Flags().GetBool("refresh")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	window, err := types.ParseWindow(start, end)
	if err != nil {
		return err
	}
	guard := security.NewGuard(security.DefaultConfig())
	users, err := parseUsers(guard, userValues)
	if err != nil {
		return err
	}
	if usersFile != "" {
		listed, err := loadUsersFile(guard, usersFile)
		if err != nil {
			return err
		}
		users = append(users, listed...)
	}
	overrides, err := weights.ParseOverrides(weightPairs)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if refresh {
		cfg.Cache.Refresh = true
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, src := range a.Sources {
		if !src.Enabled() {
			a.Logger.Warn("Source not configured, it will be skipped", "source", src.Name())
		}
	}

	w, err := a.ResolveWeights(preset, overrides)
	if err != nil {
		return err
	}
	ev, err := a.Evaluator(w)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, evalErr := ev.Evaluate(ctx, evaluator.Request{Users: users, Window: window})
	if result == nil {
		return evalErr
	}

	if redactTitles {
		result = privacy.New(privacy.WithSalt(cfg.AnonymizeSalt), privacy.WithRedactedTitles()).Report(result)
	} else if anonymize {
		result = a.Anonymizer.Report(result)
	}

	if err := writeReport(cmd.OutOrStdout(), outFile, format, result); err != nil {
		return err
	}
	if evalErr != nil {
		return fmt.Errorf("evaluation interrupted, report %s is partial: %w", result.RunID, evalErr)
	}
	return nil
}

func writeReport(stdout io.Writer, outFile string, format report.Format, r *evaluator.Report) error {
	if outFile == "" {
		return report.RenderFormat(stdout, format, r)
	}

	if dir := filepath.Dir(outFile); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", outFile, err)
	}
	if err := report.RenderFormat(f, format, r); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", outFile, err)
	}
	fmt.Fprintf(os.Stderr, "Report %s written to %s\n", r.RunID, outFile)
	return nil
}

// parseUsers turns --user values into evaluator users
func parseUsers(guard *security.Guard, values []string) ([]evaluator.User, error) {
	users := make([]evaluator.User, 0, len(values))
	for _, value := range values {
		u, err := parseUserFlag(value)
		if err != nil {
			return nil, err
		}
		if err := guard.ValidateUser(u.ID, u.Handles); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// userEntry is one element of a --users-file document
type userEntry struct {
	ID      string            `yaml:"id"`
	Handles map[string]string `yaml:"handles"`
}

// loadUsersFile reads a list of users from path. JSON documents are read as YAML.
func loadUsersFile(guard *security.Guard, path string) ([]evaluator.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file %s: %w", path, err)
	}

	var entries []userEntry
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid users file %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("users file %s lists no users", path)
	}

	users := make([]evaluator.User, 0, len(entries))
	for i, e := range entries {
		u := evaluator.User{ID: strings.TrimSpace(e.ID)}
		if u.ID == "" {
			return nil, fmt.Errorf("users file %s: entry %d has no id", path, i+1)
		}
		for name, handle := range e.Handles {
			src := types.Source(strings.ToLower(strings.TrimSpace(name)))
			if !src.Valid() {
				return nil, fmt.Errorf("users file %s: user %s: unknown source %q", path, u.ID, name)
			}
			if u.Handles == nil {
				u.Handles = make(map[types.Source]string)
			}
			u.Handles[src] = strings.TrimSpace(handle)
		}
		if err := guard.ValidateUser(u.ID, u.Handles); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// parseUserFlag accepts "id" or "id:source=handle[,source=handle]"
func parseUserFlag(value string) (evaluator.User, error) {
	id, rest, hasHandles := strings.Cut(strings.TrimSpace(value), ":")
	id = strings.TrimSpace(id)
	if id == "" {
		return evaluator.User{}, fmt.Errorf("invalid user %q: empty id", value)
	}
	u := evaluator.User{ID: id}
	if !hasHandles {
		return u, nil
	}

	u.Handles = make(map[types.Source]string)
	for _, pair := range strings.Split(rest, ",") {
		name, handle, ok := strings.Cut(pair, "=")
		name, handle = strings.TrimSpace(name), strings.TrimSpace(handle)
		if !ok || handle == "" {
			return evaluator.User{}, fmt.Errorf("invalid user %q: expected source=handle, got %q", value, pair)
		}
		src := types.Source(strings.ToLower(name))
		if !src.Valid() {
			return evaluator.User{}, fmt.Errorf("invalid user %q: unknown source %q", value, name)
		}
		u.Handles[src] = handle
	}
	return u, nil
}
