package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"agentdash/internal/config"
	"agentdash/internal/credentials"
	"agentdash/internal/logging"
	"agentdash/internal/preset"
	"agentdash/internal/render"
	"agentdash/internal/session"
	"agentdash/internal/taskrun"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentdash error: %v\n", err)
		os.Exit(1)
	}
}

const usage = `usage: agentdash [--api URL] [--state PATH] [--ephemeral] <command> [flags]

commands:
  login --email E --password P    log in and store the token
  signup --email E --password P   create an account (pending approval)
  logout                          forget the stored token
  whoami                          show the current account
  pending                         list accounts awaiting approval (admin)
  approve <user-id>               approve a pending account (admin)
  presets                         list task presets
  run <preset> [--repo R] [--path F] [--prompt T]
                                  start a task and follow its log
  status <task-id>                fetch a task record
`

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	out     *render.Printer
	client  *session.Client
	catalog *preset.Catalog
	closers []func() error
}

func (a *app) close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			a.logger.Warn("close", "err", err)
		}
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	global := flag.NewFlagSet("agentdash", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	global.StringVar(&cfg.APIURL, "api", cfg.APIURL, "backend base URL")
	global.StringVar(&cfg.StatePath, "state", cfg.StatePath, "path to the sqlite credential store")
	global.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	ephemeral := global.Bool("ephemeral", false, "keep the token in memory only")
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}

	a, err := newApp(cfg, *ephemeral, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "login":
		return a.login(ctx, cmdArgs, stderr)
	case "signup":
		return a.signup(ctx, cmdArgs, stderr)
	case "logout":
		if err := a.client.Logout(ctx); err != nil {
			return err
		}
		a.out.Message("Logged out.")
		return nil
	case "whoami":
		u, err := a.client.CheckAuth(ctx)
		if err != nil {
			return err
		}
		a.out.User(u)
		return nil
	case "pending":
		users, err := a.client.PendingUsers(ctx)
		if err != nil {
			return fmt.Errorf("pending: %w", err)
		}
		a.out.PendingUsers(users)
		return nil
	case "approve":
		return a.approve(ctx, cmdArgs)
	case "presets":
		a.out.Presets(a.catalog.List())
		return nil
	case "run":
		return a.runTask(ctx, cmdArgs, stderr)
	case "status":
		return a.status(ctx, cmdArgs)
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newApp(cfg config.Config, ephemeral bool, stdout, stderr io.Writer) (*app, error) {
	if err := cfg.RequireAPIURL(); err != nil {
		return nil, err
	}
	logger := logging.NewWithWriter(stderr, cfg.LogLevel, cfg.LogFormat)
	a := &app{cfg: cfg, logger: logger, out: render.New(stdout, 0)}

	var store credentials.Store
	if ephemeral {
		store = credentials.NewMemoryStore()
	} else {
		sq, err := credentials.NewSQLiteStore(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("open credential store: %w", err)
		}
		a.closers = append(a.closers, sq.Close)
		store = sq
	}

	client, err := session.New(cfg.APIURL, credentials.New(store),
		session.WithTimeout(cfg.HTTPTimeout),
		session.WithLogger(logger),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.client = client

	catalog, err := preset.LoadCatalog(cfg.PresetsPath)
	if err != nil {
		a.close()
		return nil, err
	}
	a.catalog = catalog
	return a, nil
}

func credentialFlags(name string, args []string, stderr io.Writer) (string, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("AGENTDASH_PASSWORD"), "account password (or AGENTDASH_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if *email == "" || *password == "" {
		return "", "", fmt.Errorf("--email and --password are required")
	}
	return *email, *password, nil
}

func (a *app) login(ctx context.Context, args []string, stderr io.Writer) error {
	email, password, err := credentialFlags("login", args, stderr)
	if err != nil {
		return err
	}
	msg, err := a.client.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	a.out.Message(msg)
	a.out.User(a.client.User())
	return nil
}

func (a *app) signup(ctx context.Context, args []string, stderr io.Writer) error {
	email, password, err := credentialFlags("signup", args, stderr)
	if err != nil {
		return err
	}
	res, err := a.client.Signup(ctx, email, password)
	if err != nil {
		return fmt.Errorf("signup: %w", err)
	}
	a.out.Message(res.Message)
	return nil
}

func (a *app) approve(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: agentdash approve <user-id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("user id %q: %w", args[0], err)
	}
	msg, err := a.client.Approve(ctx, id)
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	a.out.Message(msg)
	return nil
}

func (a *app) runTask(ctx context.Context, args []string, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: agentdash run <preset> [--repo R] [--path F] [--prompt T]")
	}
	presetID := args[0]
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("repo", "", "repository identifier (owner/name)")
	path := fs.String("path", "", "file path inside the repository")
	prompt := fs.String("prompt", "", "prompt text")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	form := preset.Form{
		preset.FieldRepo:   *repo,
		preset.FieldPath:   *path,
		preset.FieldPrompt: *prompt,
	}

	consumer := taskrun.NewConsumer(a.client,
		taskrun.WithHooks(a.out.Hooks()),
		taskrun.WithFallbackTimeout(a.cfg.StreamTimeout),
		taskrun.WithConsumerLogger(a.logger),
	)
	launcher := taskrun.NewLauncher(a.client, a.catalog, a.logger)
	runner := taskrun.NewRunner(a.client, launcher, consumer, a.logger)
	defer runner.Close()

	launch, err := runner.Start(ctx, presetID, form)
	if errors.Is(err, session.ErrServiceUnavailable) {
		return fmt.Errorf("backend is starting up, try again in a few seconds: %w", err)
	}
	if err != nil {
		return err
	}
	a.out.Launch(launch)

	task, err := runner.Watch(ctx, launch.ID)
	a.out.Task(task)
	if err != nil {
		return err
	}
	if task.Status == taskrun.StatusFailed {
		return fmt.Errorf("task %s failed", launch.ID)
	}
	return nil
}

func (a *app) status(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: agentdash status <task-id>")
	}
	runner := taskrun.NewRunner(a.client, nil, taskrun.NewConsumer(a.client), a.logger)
	task, err := runner.Status(ctx, taskrun.TaskID(args[0]))
	if err != nil {
		return err
	}
	a.out.Task(task)
	return nil
}
