package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"calsync/internal/filter"
	"calsync/internal/google"
	"calsync/internal/icloud"
	"calsync/internal/models"
	"calsync/internal/scheduler"
	"calsync/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calsync",
		Usage: "One-way, idempotent calendar synchronization.",
		Commands: []*cli.Command{
			authCommand(),
			listCommand(),
			syncCommand(),
			scheduleCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			config, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(config, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			tokenFile := "token-" + accountName + ".json"

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

// fetchFlags are shared between the list and sync commands.
func fetchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "days", Value: 7, Usage: "Number of days from today to query calendar events."},
		&cli.StringFlag{Name: "source-calendar", Aliases: []string{"calendar"}, Usage: "Source calendar name to read from.", EnvVars: []string{"SOURCE_CALENDAR"}},
		&cli.StringFlag{Name: "account", Usage: "Google account name (from the auth command). Defaults to the first saved account."},
		&cli.BoolFlag{Name: "exclude-declined-events", Usage: "Exclude events where you have declined the invitation."},
		&cli.BoolFlag{Name: "exclude-all-day-events", Usage: "Exclude all-day events."},
		&cli.StringFlag{Name: "exclude-title", Usage: "Comma-separated list of title patterns to exclude (case-insensitive). Example: \"Focus Time,1:1,All Hands\""},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Fetch and display events from the source calendar.",
		Flags: fetchFlags(),
		Action: func(c *cli.Context) error {
			logger := setupLogger(logLevel())

			events, _, _, err := fetchSourceEvents(c, logger)
			if err != nil {
				return err
			}

			if len(events) == 0 {
				fmt.Println("No events found in the specified date range.")
				return nil
			}

			fmt.Printf("Found %d event(s):\n\n", len(events))
			for _, e := range events {
				printEvent(e)
			}
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Reconcile source calendar events into a destination calendar.",
		Flags: append(fetchFlags(),
			&cli.StringFlag{Name: "destination", Required: true, Usage: "Destination calendar name to sync into.", EnvVars: []string{"DESTINATION_CALENDAR"}},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.StringFlag{Name: "conflict-policy", Value: "first-wins", Usage: "Policy for duplicate source events: first-wins or reject."},
		),
		Action: func(c *cli.Context) error {
			logger := setupLogger(logLevel())

			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			events, from, to, err := fetchSourceEvents(c, logger)
			if err != nil {
				return err
			}

			// Destination resolution failures are fatal and happen before
			// any write is attempted.
			store, err := icloud.NewClient(logger, os.Getenv("ICLOUD_USERNAME"), os.Getenv("ICLOUD_APP_SPECIFIC_PASSWORD"), c.String("destination"))
			if err != nil {
				return fmt.Errorf("failed to resolve destination calendar: %w", err)
			}

			var onConflict syncer.ConflictPolicy
			switch c.String("conflict-policy") {
			case "first-wins":
				onConflict = syncer.ConflictFirstWins
			case "reject":
				onConflict = syncer.ConflictReject
			default:
				return fmt.Errorf("unknown conflict policy %q: use first-wins or reject", c.String("conflict-policy"))
			}

			engine := syncer.NewEngine(logger, store, syncer.Options{
				DryRun:     c.Bool("dry-run"),
				OnConflict: onConflict,
			})
			report, err := engine.Reconcile(c.Context, events, from, to)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			fmt.Println("Sync complete!")
			fmt.Printf("  Created: %d\n", report.Created)
			fmt.Printf("  Updated: %d\n", report.Updated)
			fmt.Printf("  Deleted: %d\n", report.Deleted)
			for _, fp := range report.Conflicts {
				fmt.Printf("  Conflict: duplicate source event %s (first occurrence kept)\n", fp)
			}
			// Individual operation failures are reported but do not change
			// the exit status; the next run retries them implicitly.
			for _, opErr := range report.Errors {
				fmt.Fprintf(os.Stderr, "  Error: %v\n", opErr)
			}
			return nil
		},
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Run the task scheduler daemon.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.yaml", Usage: "Path to the scheduler YAML configuration."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(logLevel())

			cfg, err := scheduler.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load scheduler config: %w", err)
			}

			s := scheduler.New(logger, cfg)
			s.Register()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			s.Run(ctx)
			return nil
		},
	}
}

// fetchSourceEvents resolves the Google source, lists the window selected
// by --days and applies the filter pipeline. It returns the filtered
// events along with the query window, which the syncer needs when the
// filtered set is empty.
func fetchSourceEvents(c *cli.Context, logger *slog.Logger) ([]*models.Event, time.Time, time.Time, error) {
	var zero time.Time

	sourceCalendar := c.String("source-calendar")
	if sourceCalendar == "" {
		return nil, zero, zero, fmt.Errorf("no source calendar given: set --source-calendar or SOURCE_CALENDAR")
	}

	account := c.String("account")
	if account == "" {
		accounts, err := google.GetTokenAccounts()
		if err != nil || len(accounts) == 0 {
			return nil, zero, zero, fmt.Errorf("no google accounts found. Run the 'auth' command first")
		}
		account = accounts[0]
	}

	source, err := google.NewClient(c.Context, logger, os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"), account)
	if err != nil {
		return nil, zero, zero, fmt.Errorf("failed to create google client: %w", err)
	}

	from := time.Now()
	to := from.AddDate(0, 0, c.Int("days"))
	logger.Info("Fetching events.", "calendar", sourceCalendar, "from", from.Format("2006-01-02"), "to", to.Format("2006-01-02"))

	events, err := source.ListEvents(c.Context, sourceCalendar, from, to)
	if err != nil {
		return nil, zero, zero, fmt.Errorf("failed to fetch source events: %w", err)
	}

	filtered := filter.Apply(events, filter.Options{
		ExcludeAllDay:        c.Bool("exclude-all-day-events"),
		ExcludeDeclined:      c.Bool("exclude-declined-events"),
		ExcludeTitlePatterns: filter.ParsePatterns(c.String("exclude-title")),
	})
	logger.Info("Filtered source events.", "fetched", len(events), "kept", len(filtered))

	return filtered, from, to, nil
}

func printEvent(e *models.Event) {
	fmt.Printf("Title: %s\n", e.Title)
	fmt.Printf("Start: %s\n", e.StartTime.Format(time.RFC3339))
	fmt.Printf("End: %s\n", e.EndTime.Format(time.RFC3339))
	location := e.Location
	if location == "" {
		location = "No location"
	}
	fmt.Printf("Location: %s\n", location)
	fmt.Printf("All Day: %t\n", e.AllDay)
	fmt.Printf("Participation: %s\n", e.UserParticipation())
	fmt.Println(strings.Repeat("-", 50))
}

func logLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	return level
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
