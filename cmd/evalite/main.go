// EVA-Lite - wellness check-in service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evalite/evalite/internal/config"
	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/email"
	"github.com/evalite/evalite/internal/llm"
	"github.com/evalite/evalite/internal/logging"
	"github.com/evalite/evalite/internal/storage"
	"github.com/evalite/evalite/internal/triage"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "evalite",
		Short: "EVA-Lite - wellness check-in analysis and follow-up",
		Long: `EVA-Lite accepts short wellness check-ins, classifies them with an AI
provider (or a local keyword heuristic), stores them, and notifies the
user's contacts by SMS or email.

Run without a subcommand to start the API server.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (.env or yaml); defaults to ./.env if present")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: DEBUG, INFO, WARNING, ERROR")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(checkInsCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(gmailAuthCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadSettings resolves configuration with CLI flags on top and sets up
// logging from the result.
func loadSettings(extra map[string]interface{}) (config.Settings, error) {
	overrides := map[string]interface{}{}
	if logLevel != "" {
		overrides["log_level"] = logLevel
	}
	if logFormat != "" {
		overrides["log_format"] = logFormat
	}
	for k, v := range extra {
		overrides[k] = v
	}

	settings, err := config.Load(config.Options{File: configFile, Overrides: overrides})
	if err != nil {
		return config.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(logging.Config{Level: settings.Log.Level, Format: settings.Log.Format})
	return settings, nil
}

// openDatabase opens DATABASE_URL and applies migrations.
func openDatabase(ctx context.Context, url string) (*storage.DB, error) {
	cfg, err := storage.ConfigFromURL(url)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

// offline marks commands that never call a provider, so a missing API key
// does not block them.
var offline = map[string]interface{}{"local_analysis_enabled": true}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server (default)",
		RunE:  runServe,
	}
}

func analyzeCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "analyze [text]",
		Short: "Analyze a check-in text and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra map[string]interface{}
			if local {
				extra = offline
			}
			settings, err := loadSettings(extra)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var analyzer triage.Analyzer
			if !local {
				provider, err := llm.New(ctx, settings.AI)
				if err != nil {
					return err
				}
				analyzer = llm.NewRouter(llm.RouterConfig{Provider: provider, Timeout: settings.AI.Timeout})
			}
			engine := triage.NewEngine(analyzer, triage.EngineConfig{
				LocalAnalysisEnabled: settings.AI.LocalAnalysisEnabled,
			})

			analyze := engine.Analyze
			if local {
				analyze = engine.AnalyzeLocal
			}
			res, err := analyze(ctx, core.CheckIn{UserID: 1, Text: strings.Join(args, " ")})
			if err != nil {
				return err
			}

			out := struct {
				Outcome  string              `json:"outcome"`
				Source   core.Source         `json:"source"`
				Provider core.Provider       `json:"provider,omitempty"`
				Latency  string              `json:"latency"`
				Analysis core.AnalysisResult `json:"analysis"`
			}{res.Outcome.String(), res.Source, res.Provider, res.Latency.String(), res.Analysis}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "use the local heuristic instead of the AI provider")
	return cmd
}

func checkInsCmd() *cobra.Command {
	var userID int64
	var limit int

	cmd := &cobra.Command{
		Use:   "checkins",
		Short: "List a user's recent check-ins",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be a positive integer")
			}
			settings, err := loadSettings(offline)
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), settings.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := storage.NewCheckInStore(db).Recent(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No check-ins for user %d\n", userID)
				return nil
			}

			w := cmd.OutOrStdout()
			for _, rec := range records {
				flag := ""
				if rec.Analysis.Emergency {
					flag = " EMERGENCY"
				}
				fmt.Fprintf(w, "#%d  %s  %-8s mood %+.2f  [%s]%s\n",
					rec.ID, rec.CreatedAt.Format("2006-01-02 15:04"), rec.Analysis.Priority,
					rec.Analysis.Mood, rec.Source, flag)
				fmt.Fprintf(w, "    %s\n", truncate(rec.Text, 72))
				for _, s := range rec.Analysis.Suggestions {
					fmt.Fprintf(w, "    - %s\n", s)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user ID")
	cmd.Flags().IntVar(&limit, "limit", storage.DefaultRecentLimit, "max results (1-100)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(offline)
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), settings.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Database is up to date (%s)\n", db.Dialect())
			return nil
		},
	}
}

func gmailAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gmail-auth",
		Short: "Authorize EVA-Lite to send mail through Gmail",
		Long: `Runs the Google OAuth consent flow with GOOGLE_CLIENT_ID and
GOOGLE_CLIENT_SECRET and writes the token to GMAIL_TOKEN_FILE, which the
gmail email transport reads at startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(offline)
			if err != nil {
				return err
			}
			gmailCfg := settings.Email.Gmail
			if gmailCfg.TokenFile == "" {
				return fmt.Errorf("GMAIL_TOKEN_FILE is required")
			}

			token, err := email.Authorize(cmd.Context(), gmailCfg, email.AuthorizeOptions{Out: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			if err := email.SaveToken(gmailCfg.TokenFile, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", gmailCfg.TokenFile)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "EVA-Lite v%s\n", config.Version)
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
