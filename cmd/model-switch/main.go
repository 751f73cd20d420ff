package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/tjfontaine/model-switch-gateway/internal/commands"
	"github.com/tjfontaine/model-switch-gateway/internal/daemon"
	"github.com/tjfontaine/model-switch-gateway/internal/journal"
	"github.com/tjfontaine/model-switch-gateway/internal/pkg/config"
	"github.com/tjfontaine/model-switch-gateway/internal/profile"
	"github.com/tjfontaine/model-switch-gateway/internal/telemetry"
	"github.com/tjfontaine/model-switch-gateway/pkg/gateway"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  commands.Binary,
		Usage: "Switch Claude clients between Anthropic-compatible providers through a local gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "gateway settings file (default ~/.claude/model-switch.yaml)",
				Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start the gateway in the background",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "listen port", Value: config.DefaultPort},
					&cli.BoolFlag{Name: "foreground", Hidden: true},
				},
				Action: startAction,
			},
			{
				Name:   "stop",
				Usage:  "Stop the background gateway",
				Action: withRunner(func(_ context.Context, _ *cli.Command, r *commands.Runner) error { return r.Stop() }),
			},
			{
				Name:      "use",
				Usage:     "Switch the active provider",
				ArgsUsage: "<provider>",
				Action: withRunner(func(_ context.Context, cmd *cli.Command, r *commands.Runner) error {
					name, err := requireArg(cmd, 0, "provider")
					if err != nil {
						return err
					}
					return r.Use(name)
				}),
			},
			{
				Name:      "setup",
				Usage:     "Store credentials for a provider",
				ArgsUsage: "<provider>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-key", Usage: "sent as x-api-key and Bearer token"},
					&cli.StringFlag{Name: "auth-token", Usage: "sent as Bearer token"},
				},
				Action: withRunner(func(_ context.Context, cmd *cli.Command, r *commands.Runner) error {
					name, err := requireArg(cmd, 0, "provider")
					if err != nil {
						return err
					}
					return r.Setup(name, cmd.String("api-key"), cmd.String("auth-token"))
				}),
			},
			{
				Name:      "add",
				Usage:     "Add or update a provider",
				ArgsUsage: "<name> [<base-url>] [<credential>]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "base-url"},
					&cli.StringFlag{Name: "haiku", Usage: "model for the haiku tier"},
					&cli.StringFlag{Name: "sonnet", Usage: "model for the sonnet tier"},
					&cli.StringFlag{Name: "opus", Usage: "model for the opus tier"},
					&cli.StringFlag{Name: "api-key"},
					&cli.StringFlag{Name: "auth-token"},
				},
				Action: withRunner(func(_ context.Context, cmd *cli.Command, r *commands.Runner) error {
					name, err := requireArg(cmd, 0, "name")
					if err != nil {
						return err
					}
					if cmd.Args().Len() > 3 {
						return errors.New("too many arguments; usage: add <name> [<base-url>] [<credential>]")
					}
					return r.Add(commands.AddOptions{
						Name:      name,
						Input1:    cmd.Args().Get(1),
						Input2:    cmd.Args().Get(2),
						BaseURL:   cmd.String("base-url"),
						Haiku:     cmd.String("haiku"),
						Sonnet:    cmd.String("sonnet"),
						Opus:      cmd.String("opus"),
						APIKey:    cmd.String("api-key"),
						AuthToken: cmd.String("auth-token"),
					})
				}),
			},
			{
				Name:      "remove",
				Usage:     "Remove a provider",
				ArgsUsage: "<name>",
				Action: withRunner(func(_ context.Context, cmd *cli.Command, r *commands.Runner) error {
					name, err := requireArg(cmd, 0, "name")
					if err != nil {
						return err
					}
					return r.Remove(name)
				}),
			},
			{
				Name:   "list",
				Usage:  "List providers",
				Action: withRunner(func(_ context.Context, _ *cli.Command, r *commands.Runner) error { return r.List() }),
			},
			{
				Name:   "status",
				Usage:  "Show the active provider and gateway state",
				Action: withRunner(func(_ context.Context, _ *cli.Command, r *commands.Runner) error { return r.Status() }),
			},
			{
				Name:  "init",
				Usage: "Point Claude at the gateway and seed the built-in providers",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: config.DefaultPort},
				},
				Action: withRunner(func(_ context.Context, cmd *cli.Command, r *commands.Runner) error {
					path, err := commands.DefaultSettingsPath()
					if err != nil {
						return err
					}
					return r.Init(path, cmd.Int("port"))
				}),
			},
			{
				Name:  "stats",
				Usage: "Summarize the request journal",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "recent", Usage: "number of recent requests to show", Value: 10},
				},
				Action: statsAction,
			},
		},
	}
}

func requireArg(cmd *cli.Command, i int, name string) (string, error) {
	v := cmd.Args().Get(i)
	if v == "" {
		return "", fmt.Errorf("missing <%s>; usage: %s %s %s", name, commands.Binary, cmd.Name, cmd.ArgsUsage)
	}
	return v, nil
}

func loadSettings(cmd *cli.Command) (*config.Config, error) {
	settings, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if settings.Profiles.Path == "" {
		p, err := profile.DefaultPath()
		if err != nil {
			return nil, err
		}
		settings.Profiles.Path = p
	}
	return settings, nil
}

func newDaemon() (*daemon.Daemon, error) {
	pidPath, err := daemon.DefaultPIDPath()
	if err != nil {
		return nil, err
	}
	return daemon.New(pidPath), nil
}

type runnerAction func(ctx context.Context, cmd *cli.Command, r *commands.Runner) error

func withRunner(fn runnerAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		slog.SetDefault(newLogger(settings.Log))
		d, err := newDaemon()
		if err != nil {
			return err
		}
		return fn(ctx, cmd, commands.New(settings.Profiles.Path, d, os.Stdout))
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("port") {
		settings.Server.Port = cmd.Int("port")
	}
	logger := newLogger(settings.Log)
	slog.SetDefault(logger)

	if cmd.Bool("foreground") {
		return runForeground(ctx, settings, logger)
	}

	d, err := newDaemon()
	if err != nil {
		return err
	}
	var args []string
	if path := cmd.String("config"); path != "" {
		args = append(args, "--config", path)
	}
	return commands.New(settings.Profiles.Path, d, os.Stdout).Start(settings.Server.Port, args...)
}

func runForeground(ctx context.Context, settings *config.Config, logger *slog.Logger) error {
	if settings.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(telemetry.ServiceName, os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	gw, err := gateway.New(
		gateway.WithSettings(settings),
		gateway.WithProfileFile(settings.Profiles.Path),
		gateway.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	waitDone := make(chan struct{})
	go func() {
		serveErr = gw.Wait()
		close(waitDone)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received, stopping gateway", slog.String("signal", sig.String()))
	case <-waitDone:
		return serveErr
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func statsAction(ctx context.Context, cmd *cli.Command) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if settings.Journal.Path == "" {
		return fmt.Errorf("request journal is disabled; set journal.path or %sJOURNAL__PATH", config.EnvPrefix)
	}
	j, err := journal.Open(settings.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()
	return commands.Stats(ctx, os.Stdout, j, cmd.Int("recent"))
}
