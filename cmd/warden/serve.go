package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/client/discord"
	"github.com/zulandar/warden/internal/client/slack"
	"github.com/zulandar/warden/internal/command"
	"github.com/zulandar/warden/internal/config"
	"github.com/zulandar/warden/internal/dashboard"
	"github.com/zulandar/warden/internal/db"
	"github.com/zulandar/warden/internal/dispatcher"
	"github.com/zulandar/warden/internal/lockstore"
	"github.com/zulandar/warden/internal/session"
	"github.com/zulandar/warden/internal/state"
	"github.com/zulandar/warden/internal/supervisor"
	"golang.org/x/time/rate"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its dashboard",
		Long:  "Starts the dashboard, resumes from saved credentials if present, and keeps the chat session alive until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, envFile)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "warden.yaml", "path to Warden config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	return cmd
}

// app is the wired object graph of a running bot.
type app struct {
	cfg        *config.Config
	settings   *state.Settings
	persona    *state.Persona
	joined     *state.JoinedSet
	stateFile  *state.FileStore
	locks      lockstore.Store
	sessions   *session.Manager
	router     *command.Router
	dispatcher *dispatcher.Dispatcher
	supervisor *supervisor.Supervisor
	hub        *dashboard.Hub
	resume     client.Credentials
}

// lateSender forwards session sends to the supervisor, which is built after
// the session manager it serves.
type lateSender struct {
	sup *supervisor.Supervisor
}

func (l *lateSender) SendMessage(ctx context.Context, msg client.Message, conversationID string) error {
	if l.sup == nil {
		return client.ErrNotConnected
	}
	return l.sup.SendMessage(ctx, msg, conversationID)
}

func authenticatorFor(platform string) (client.Authenticator, error) {
	switch platform {
	case "discord":
		return discord.Authenticator{}, nil
	case "slack":
		return slack.Authenticator{}, nil
	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
}

// openLockStore builds the enforcement state backend named in cfg.
func openLockStore(cfg config.StoreConfig) (lockstore.Store, error) {
	var dsn string
	switch cfg.Driver {
	case "memory":
		return lockstore.NewMemoryStore(), nil
	case "sqlite":
		dsn = cfg.Path
	case "mysql":
		m := cfg.MySQL
		dsn = db.MySQLDSN(m.Host, m.Port, m.User, m.Password, m.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	gormDB, err := db.Connect(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	store, err := lockstore.NewSQLStore(gormDB)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// buildApp wires every component from cfg without starting anything.
func buildApp(cfg *config.Config, out io.Writer) (*app, error) {
	a := &app{
		cfg:       cfg,
		settings:  state.NewSettings(cfg.Prefix, cfg.AdminID),
		joined:    state.NewJoinedSet(),
		stateFile: state.NewFileStore(cfg.StateFile),
		hub:       dashboard.NewHub(),
	}
	a.hub.FollowJoined(a.joined)

	nickname := cfg.Persona.Nickname
	snap, ok, err := a.stateFile.Load()
	if err != nil {
		log.Printf("warden: load state: %v", err)
	} else if ok {
		if snap.BotNickname != "" {
			nickname = snap.BotNickname
		}
		a.resume = snap.Cookies
	}
	a.persona = state.NewPersona(nickname)

	cat := command.DefaultCatalogue()
	if cfg.Persona.Catalogue != "" {
		if cat, err = command.LoadCatalogueFile(cfg.Persona.Catalogue); err != nil {
			return nil, fmt.Errorf("load reply catalogue: %w", err)
		}
	}

	if a.locks, err = openLockStore(cfg.Store); err != nil {
		return nil, fmt.Errorf("open lock store: %w", err)
	}

	sender := &lateSender{}
	a.sessions, err = session.NewManager(session.ManagerOpts{
		Sender:       sender,
		Interval:     cfg.Timings.TargetInterval,
		CatalogueDir: cfg.CatalogueDir,
	})
	if err != nil {
		return nil, err
	}

	var throttle *rate.Limiter
	if cfg.Timings.Throttle > 0 {
		throttle = rate.NewLimiter(rate.Every(cfg.Timings.Throttle), 1)
	}
	a.router, err = command.NewRouter(command.RouterOpts{
		Settings:  a.settings,
		Persona:   a.persona,
		StateFile: a.stateFile,
		Locks:     a.locks,
		Sessions:  a.sessions,
		Catalogue: cat,
		Throttle:  throttle,
	})
	if err != nil {
		return nil, err
	}

	a.dispatcher, err = dispatcher.New(dispatcher.Opts{
		Messages:    a.router,
		Locks:       a.locks,
		Settings:    a.settings,
		Persona:     a.persona,
		Joined:      a.joined,
		Catalogue:   cat,
		PhotoPolicy: dispatcher.PhotoPolicy(cfg.Enforcement.PhotoPolicy),
	})
	if err != nil {
		return nil, err
	}

	auth, err := authenticatorFor(cfg.Platform)
	if err != nil {
		return nil, err
	}
	t := cfg.Timings
	a.supervisor, err = supervisor.New(supervisor.Opts{
		Authenticator: auth,
		Handler:       a.dispatcher,
		Settings:      a.settings,
		Persona:       a.persona,
		Joined:        a.joined,
		StateFile:     a.stateFile,
		Catalogue:     cat,
		Timings: supervisor.Timings{
			LoginRetry:       t.LoginRetry,
			ListenerRetry:    t.ListenerRetry,
			ReconnectCeiling: t.ReconnectCeiling,
			SettleDelay:      t.SettleDelay,
			Throttle:         t.Throttle,
			ThreadLimit:      t.ThreadLimit,
		},
		SaveSchedule:    cfg.Schedule.Save,
		PersonaSchedule: cfg.Schedule.Persona,
		Out:             out,
	})
	if err != nil {
		return nil, err
	}
	sender.sup = a.supervisor
	return a, nil
}

func runServe(cmd *cobra.Command, configPath, envFile string) error {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	out := cmd.OutOrStdout()
	a, err := buildApp(cfg, out)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stderr, a.hub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	supErr := make(chan error, 1)
	go func() { supErr <- a.supervisor.Run(ctx) }()

	if len(a.resume) > 0 {
		fmt.Fprintf(out, "Resuming with saved credentials from %s\n", a.stateFile.Path())
		a.supervisor.Start(a.resume)
	} else {
		fmt.Fprintf(out, "No saved credentials; configure the bot from the dashboard\n")
	}

	dashErr := dashboard.Start(ctx, dashboard.StartOpts{
		Controller: a.supervisor,
		Settings:   a.settings,
		Joined:     a.joined,
		Hub:        a.hub,
		Port:       cfg.Port,
		Out:        out,
	})
	cancel()
	a.sessions.StopAll()
	if err := <-supErr; err != nil && dashErr == nil {
		return err
	}
	return dashErr
}
