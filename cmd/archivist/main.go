package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/davexpro/archivist/internal/api"
	"github.com/davexpro/archivist/internal/config"
	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/jobs"
	"github.com/davexpro/archivist/internal/launcher"
	"github.com/davexpro/archivist/internal/logging"
	"github.com/davexpro/archivist/internal/media"
	"github.com/davexpro/archivist/internal/pkg/helper"
	"github.com/davexpro/archivist/internal/scheduler"
	"github.com/davexpro/archivist/internal/vault"
	"github.com/davexpro/archivist/internal/worker"
)

func main() {
	app := &cli.App{
		Name:  "archivist",
		Usage: "Chat history archival with media download, bulk deletion, scheduled backups and retention",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				EnvVars: []string{"ARCHIVIST_CONFIG"},
				Usage:   "Load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API, the scheduler and the worker launcher",
				Action: func(c *cli.Context) error {
					return runWorkflow(c, serve)
				},
			},
			{
				Name:  "worker",
				Usage: "Run a single job to completion (started by the launcher)",
				Subcommands: []*cli.Command{
					workerCommand(launcher.KindBackup),
					workerCommand(launcher.KindDelete),
				},
			},
			{
				Name:  "retention",
				Usage: "Apply the keep_last_n policy of every schedule",
				Action: func(c *cli.Context) error {
					return runWorkflow(c, func(ctx context.Context, e *env) error {
						removed, err := e.retention().ApplyAll(ctx)
						logging.Info().Int("removed", removed).Msg("retention pass finished")
						return err
					})
				},
			},
			{
				Name:  "credential",
				Usage: "Manage stored platform credentials",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "Encrypt and store a token",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "kind", Required: true, Usage: "user or bot"},
							&cli.StringFlag{Name: "name"},
							&cli.StringFlag{Name: "platform-id"},
							&cli.StringFlag{Name: "token", Required: true, EnvVars: []string{"ARCHIVIST_TOKEN"}},
						},
						Action: func(c *cli.Context) error {
							return runWorkflow(c, func(ctx context.Context, e *env) error {
								svc := jobs.NewService(e.store, nil, e.vault, e.cfg.Location())
								cred, err := svc.AddCredential(jobs.CredentialRequest{
									Kind:       c.String("kind"),
									Name:       c.String("name"),
									PlatformID: c.String("platform-id"),
									Token:      c.String("token"),
								})
								if err != nil {
									return err
								}
								fmt.Fprintln(c.App.Writer, cred.ID)
								return nil
							})
						},
					},
				},
			},
			{
				Name:  "migrate",
				Usage: "Create or update the database schema",
				Action: func(c *cli.Context) error {
					// runWorkflow already migrates
					return runWorkflow(c, func(context.Context, *env) error {
						logging.Info().Msg("database schema is up to date")
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Error().Err(err).Msg("archivist failed")
		os.Exit(1)
	}
}

func workerCommand(kind string) *cli.Command {
	return &cli.Command{
		Name:  kind,
		Usage: "Run a " + kind + " job",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "job-id", Required: true},
			&cli.StringFlag{Name: "credential", EnvVars: []string{launcher.CredentialEnvVar}, Usage: "vault-encrypted token"},
			&cli.StringFlag{Name: "source", Required: true, Usage: "credential kind, user or bot"},
		},
		Action: func(c *cli.Context) error {
			return runWorkflow(c, func(ctx context.Context, e *env) error {
				return e.runner().Run(ctx, launcher.Request{
					Kind:       kind,
					JobID:      c.Uint("job-id"),
					Credential: c.String("credential"),
					Source:     c.String("source"),
				})
			})
		},
	}
}

// env is everything a command needs once configuration is loaded.
type env struct {
	configPath string
	cfg        *config.Config
	store      *db.Store
	vault      *vault.Vault
	mirror     *helper.Storage
}

func (e *env) runner() *worker.Runner {
	return worker.NewRunner(e.cfg, e.store, e.vault, e.mirror)
}

func (e *env) retention() *scheduler.Retention {
	layout := media.Layout{Root: e.cfg.Storage.Root}
	if e.mirror == nil {
		return scheduler.NewRetention(e.store, layout, nil)
	}
	return scheduler.NewRetention(e.store, layout, e.mirror)
}

func runWorkflow(c *cli.Context, workflow func(context.Context, *env) error) error {
	configPath := c.String("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log)

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	store := db.NewStore(gdb)
	if err := store.Migrate(); err != nil {
		return err
	}

	v, err := vault.New(cfg.Vault.Secret)
	if err != nil {
		return err
	}

	mirror, err := helper.NewStorage(cfg.R2)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return workflow(ctx, &env{configPath: configPath, cfg: cfg, store: store, vault: v, mirror: mirror})
}

func serve(ctx context.Context, e *env) error {
	// workers outlive the requests that start them, but not the server
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	l, err := newLauncher(workerCtx, e)
	if err != nil {
		return err
	}

	svc := jobs.NewService(e.store, l, e.vault, e.cfg.Location())

	var sched *scheduler.Scheduler
	if e.cfg.Scheduler.Enabled {
		sched = scheduler.New(e.store, l, e.retention(), e.cfg.Location(), e.cfg.Scheduler.Tick)
		if err := sched.Start(workerCtx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr: e.cfg.HTTP.Addr,
		Handler: api.New(svc, e.store, e.vault, api.Options{
			MediaURLTTL:     e.cfg.Vault.MediaURLTTL,
			PublicRateLimit: e.cfg.HTTP.PublicRateLimit,
		}).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Str("launcher", e.cfg.Worker.Launcher).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("http server shutdown incomplete")
	}
	if sched != nil {
		sched.Stop()
	}

	// inline workers checkpoint on cancellation; worker processes are left running
	if e.cfg.Worker.Launcher == "inline" {
		cancelWorkers()
		l.Wait()
	}
	return nil
}

func newLauncher(ctx context.Context, e *env) (launcher.Launcher, error) {
	if e.cfg.Worker.Launcher == "inline" {
		return launcher.NewInlineLauncher(ctx, e.runner().Run), nil
	}

	bin, err := helper.ResolveBinary(e.cfg.Worker.Binary)
	if err != nil {
		return nil, err
	}
	return &launcher.ProcessLauncher{Binary: bin, Args: []string{"--config", e.configPath}}, nil
}
