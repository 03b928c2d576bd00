package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"ttsync/internal/config"
	"ttsync/internal/httpapi"
	"ttsync/internal/icsfile"
	"ttsync/internal/models"
	"ttsync/internal/syncer"
)

var version = "dev"

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "ttsync",
		Usage:   "Turn a timetable file into calendar events.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: config.DefaultPath, Usage: "Path to the YAML config file."},
			&cli.StringFlag{Name: "log-level", Usage: "Log level (debug, info, warn, error). Overrides LOG_LEVEL."},
			&cli.StringFlag{Name: "log-format", Usage: "Log format (text, json). Overrides LOG_FORMAT."},
		},
		Commands: []*cli.Command{
			authCommand(),
			calendarsCommand(),
			parseCommand(),
			syncCommand(),
			exportCommand(),
			undoCommand(),
			serveCommand(),
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
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "sign-out", Usage: "Forget the stored token instead."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			tokens, err := a.tokenProvider()
			if err != nil {
				return err
			}

			if c.Bool("sign-out") {
				if err := tokens.SignOut(); err != nil {
					return err
				}
				a.logger.Info("Signed out.", "file", a.cfg.Google.TokenFile)
				return nil
			}

			a.logger.Info("Starting Google authentication flow.")
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", tokens.AuthCodeURL("state-token"))

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			if err := tokens.Exchange(c.Context, authCode); err != nil {
				return err
			}
			a.logger.Info("Successfully authenticated and saved token.", "file", a.cfg.Google.TokenFile)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the calendars events can be synced to.",
		Flags: []cli.Flag{
			targetFlag(),
			&cli.StringFlag{Name: "create", Usage: "Create a new Google calendar with this name."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			if name := c.String("create"); name != "" {
				client, err := a.googleClient(c.Context)
				if err != nil {
					return err
				}
				id, err := client.CreateCalendar(c.Context, name, a.cfg.TimeZone)
				if err != nil {
					return fmt.Errorf("failed to create calendar: %w", err)
				}
				fmt.Println(id)
				return nil
			}

			t, err := a.target(c.Context, c.String("target"))
			if err != nil {
				return err
			}
			cals, err := t.ListCalendars(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list calendars: %w", err)
			}
			for _, cal := range cals {
				marker := " "
				if cal.Primary {
					marker = "*"
				}
				fmt.Printf("%s %-40s %-10s %s\n", marker, cal.ID, cal.AccessRole, cal.Summary)
			}
			return nil
		},
	}
}

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Parse a timetable file and print the events as JSON for review.",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write JSON here instead of stdout."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			path, err := fileArg(c)
			if err != nil {
				return err
			}

			out, err := a.parseFile(c.Context, path)
			if err != nil {
				return err
			}
			return writeOutput(c.String("out"), func(f *os.File) error {
				enc := json.NewEncoder(f)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Create calendar events from a timetable file or a reviewed JSON file.",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			targetFlag(),
			&cli.StringFlag{Name: "calendar", Value: "primary", Usage: "Calendar ID (Google) or name (CalDAV)."},
			&cli.StringFlag{Name: "create-calendar", Usage: "Create a new Google calendar with this name and sync into it."},
			&cli.BoolFlag{Name: "skip-duplicates", Usage: "Skip events whose title and start already exist in the calendar."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be created without making changes."},
			&cli.IntFlag{Name: "repeat-weeks", Usage: "Repeat every event weekly this many times."},
			&cli.StringFlag{Name: "state", Value: syncer.DefaultStateFile, Usage: "Where to record created events for undo."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			path, err := fileArg(c)
			if err != nil {
				return err
			}
			if c.Bool("dry-run") {
				a.logger.Info("Performing a dry run. No changes will be made.")
			}

			events, err := a.loadEvents(c.Context, path)
			if err != nil {
				return err
			}

			t, err := a.target(c.Context, c.String("target"))
			if err != nil {
				return err
			}
			calendarID, err := a.resolveCalendar(c.Context, t, c.String("calendar"), c.String("create-calendar"), c.Bool("dry-run"))
			if err != nil {
				return err
			}

			s := a.syncer(t, c.Int("repeat-weeks"), c.Bool("dry-run"))
			if c.Bool("skip-duplicates") {
				dupes := s.CheckExistingEvents(c.Context, calendarID, events)
				events = syncer.WithoutDuplicates(events, dupes)
				a.logger.Info("Skipping duplicates.", "skipped", len(dupes), "remaining", len(events))
			}

			result, err := s.Sync(c.Context, calendarID, events, func(p models.Progress) {
				if p.Done {
					fmt.Fprintf(os.Stderr, "[%d/%d] done\n", p.Completed, p.Total)
					return
				}
				fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", p.Completed+1, p.Total, p.CurrentEvent)
			})
			if err != nil {
				return err
			}

			if !c.Bool("dry-run") && len(result.Created) > 0 {
				if err := a.recordState(c.String("state"), calendarID, result.Created); err != nil {
					a.logger.Error("Failed to save sync state", "error", err)
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("%d of %d events failed to sync", result.EventsFailed, result.EventsFailed+result.EventsCreated)
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write the events of a timetable file as an .ics calendar.",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the .ics here instead of stdout."},
			&cli.IntFlag{Name: "repeat-weeks", Usage: "Repeat every event weekly this many times."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			path, err := fileArg(c)
			if err != nil {
				return err
			}
			events, err := a.loadEvents(c.Context, path)
			if err != nil {
				return err
			}

			m := a.mapper(c.Int("repeat-weeks"))
			payloads := make([]models.CalendarEventPayload, 0, len(events))
			for _, ev := range events {
				p, err := m.ToPayload(ev)
				if err != nil {
					a.logger.Warn("Skipping event", "title", ev.Title, "error", err)
					continue
				}
				payloads = append(payloads, p)
			}

			return writeOutput(c.String("out"), func(f *os.File) error {
				return icsfile.Write(f, payloads, time.Now())
			})
		},
	}
}

func undoCommand() *cli.Command {
	return &cli.Command{
		Name:  "undo",
		Usage: "Delete the events created by previous syncs.",
		Flags: []cli.Flag{
			targetFlag(),
			&cli.StringFlag{Name: "state", Value: syncer.DefaultStateFile, Usage: "Sync state file to read."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be deleted without making changes."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			st, err := syncer.LoadState(c.String("state"))
			if err != nil {
				return err
			}
			if len(st.Events) == 0 {
				a.logger.Info("Nothing to undo.", "state", c.String("state"))
				return nil
			}

			t, err := a.target(c.Context, c.String("target"))
			if err != nil {
				return err
			}
			deleted, errs := a.syncer(t, 0, c.Bool("dry-run")).Undo(c.Context, st)
			if !c.Bool("dry-run") {
				if err := st.Save(c.String("state")); err != nil {
					return err
				}
			}
			fmt.Printf("Deleted %d events.\n", deleted)
			return errors.Join(errs...)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API.",
		Flags: []cli.Flag{
			targetFlag(),
			&cli.StringFlag{Name: "listen", Usage: "Listen address. Overrides LISTEN_ADDR."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			addr := a.cfg.Listen
			if c.IsSet("listen") {
				addr = c.String("listen")
			}

			server := &httpapi.Server{
				Parser:     a.orchestrator(),
				Normalizer: a.norm,
				Logger:     a.logger,
				Version:    version,
			}
			if t, err := a.target(c.Context, c.String("target")); err != nil {
				a.logger.Warn("Calendar target unavailable, sync endpoints disabled", "error", err)
			} else {
				server.Syncer = a.syncer(t, 0, false)
				server.Calendars = t
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Starting HTTP server.", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				a.logger.Info("Shutting down HTTP server.")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
}

func targetFlag() cli.Flag {
	return &cli.StringFlag{Name: "target", Value: "google", Usage: "Calendar target: google or icloud."}
}

func fileArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.New("expected exactly one FILE argument")
	}
	return c.Args().First(), nil
}

func writeOutput(path string, write func(*os.File) error) error {
	if path == "" || path == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
