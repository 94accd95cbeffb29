package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"calarchive/internal/archiver"
	"calarchive/internal/config"
	"calarchive/internal/google"
	"calarchive/internal/icloud"
	"calarchive/internal/models"
	"calarchive/internal/postgres"
	"calarchive/internal/reconcile"
	"calarchive/internal/store"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calarchive",
		Usage: "Reconcile calendar appointments and archive them.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a YAML config file.", EnvVars: []string{"CALARCHIVE_CONFIG"}},
		},
		Commands: []*cli.Command{
			authCommand(),
			archiveCommand(),
			reconcileCommand(),
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

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.Google.ClientID, cfg.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
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

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Fetch, reconcile and archive appointments.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be archived without making changes."},
			&cli.BoolFlag{Name: "strict", Usage: "Abort on the first rejected record or store failure."},
			&cli.BoolFlag{Name: "watch", Usage: "Keep running on the configured cron schedule instead of running once."},
			&cli.StringFlag{Name: "schedule", Usage: "Cron schedule for --watch, e.g. \"*/15 * * * *\"."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.IsSet("schedule") {
				cfg.Schedule = c.String("schedule")
			}
			logger := setupLogger(cfg.LogLevel)

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			providers, err := newProviders(c.Context, logger, cfg, loc)
			if err != nil {
				return err
			}

			st, closeStore, err := openStore(c.Context, logger, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			rec := reconcile.NewReconciler(logger,
				reconcile.WithAssumedLocation(loc),
				reconcile.WithDivider(cfg.Divider),
			)

			a, err := archiver.New(logger, providers, st, rec, archiver.Options{
				CalendarIDs:  cfg.Google.CalendarIDs,
				HorizonDays:  cfg.HorizonDays,
				LookbackDays: cfg.LookbackDays,
				StateFile:    cfg.StateFile,
				DryRun:       c.Bool("dry-run"),
				Strict:       c.Bool("strict"),
			})
			if err != nil {
				return fmt.Errorf("failed to create archiver: %w", err)
			}

			if c.Bool("watch") {
				return watch(c.Context, logger, a, cfg.Schedule, loc)
			}

			logger.Info("Running a single archive cycle.")
			if _, err := a.Run(c.Context); err != nil {
				return fmt.Errorf("single archive cycle failed: %w", err)
			}
			return nil
		},
	}
}

// watch runs the archiver on a cron schedule until interrupted.
func watch(ctx context.Context, logger *slog.Logger, a *archiver.Archiver, schedule string, loc *time.Location) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(schedule, func() {
		if _, err := a.Run(ctx); err != nil {
			logger.Error("Archive cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	logger.Info("Starting scheduler.", "schedule", schedule)
	c.Start()
	<-ctx.Done()
	logger.Info("Stopping scheduler.")
	<-c.Stop().Done()
	return nil
}

func newProviders(ctx context.Context, logger *slog.Logger, cfg *config.Config, loc *time.Location) ([]archiver.Provider, error) {
	// Load all Google clients for all authenticated accounts
	accounts, err := google.GetTokenAccounts(cfg.Google.TokenDir)
	if err != nil {
		return nil, fmt.Errorf("could not find any google accounts, did you run auth command? %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no google accounts found. Run the 'auth' command first")
	}

	var providers []archiver.Provider
	for _, acc := range accounts {
		gClient, err := google.NewClient(ctx, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, acc, loc)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", acc, err)
		}
		providers = append(providers, gClient)
	}
	logger.Info("Initialized Google clients for all accounts.", "count", len(providers))
	return providers, nil
}

func openStore(ctx context.Context, logger *slog.Logger, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := postgres.Open(ctx, logger, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, func() { s.Close() }, nil
	case config.StoreMemory:
		logger.Warn("Using the in-memory store. Archived appointments are lost on exit.")
		return store.NewMemory(), func() {}, nil
	default:
		s, err := icloud.NewStore(ctx, logger, cfg.CalDAV.Endpoint, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.CalendarName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create caldav store: %w", err)
		}
		return s, func() {}, nil
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:      "reconcile",
		Usage:     "Reconcile appointments from a JSON file and print the result as JSON.",
		ArgsUsage: "<appointments.json | ->",
		Flags: []cli.Flag{
			&cli.TimestampFlag{Name: "from", Layout: time.DateOnly, Required: true, Usage: "First date of the range (YYYY-MM-DD)."},
			&cli.TimestampFlag{Name: "to", Layout: time.DateOnly, Required: true, Usage: "Last date of the range, inclusive (YYYY-MM-DD)."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			appts, err := readAppointments(c.Args().First())
			if err != nil {
				return err
			}

			rec := reconcile.NewReconciler(logger,
				reconcile.WithAssumedLocation(loc),
				reconcile.WithDivider(cfg.Divider),
			)
			result, err := rec.Run(appts, *c.Timestamp("from"), *c.Timestamp("to"))
			if err != nil {
				return err
			}
			return writeResult(os.Stdout, result)
		},
	}
}

func readAppointments(path string) ([]models.Appointment, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open appointments file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var appts []models.Appointment
	if err := json.NewDecoder(r).Decode(&appts); err != nil {
		return nil, fmt.Errorf("failed to decode appointments: %w", err)
	}
	return appts, nil
}

func writeResult(w io.Writer, result reconcile.Result) error {
	out := struct {
		reconcile.Result
		Rejected []string `json:"rejected"`
	}{Result: result}
	for _, err := range result.Rejected {
		out.Rejected = append(out.Rejected, err.Error())
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
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
