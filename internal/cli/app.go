package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/taskdeck-dev/taskdeck/internal/api"
	"github.com/taskdeck-dev/taskdeck/internal/auth"
	"github.com/taskdeck-dev/taskdeck/internal/config"
	"github.com/taskdeck-dev/taskdeck/internal/guard"
	"github.com/taskdeck-dev/taskdeck/internal/logger"
	"github.com/taskdeck-dev/taskdeck/internal/refresh"
	"github.com/taskdeck-dev/taskdeck/internal/session"
	"github.com/taskdeck-dev/taskdeck/internal/taskcache"
	"github.com/taskdeck-dev/taskdeck/internal/transport"
)

var errNotAuthenticated = errors.New("not authenticated. Please run 'login' first")

// App wires the session core to the API and drives the interactive shell
type App struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *session.Store
	api   *api.Client
	auth  *auth.Service
	guard *guard.Guard
	cache *taskcache.Cache // nil when the local cache is unavailable

	reader   *bufio.Reader
	out      io.Writer
	validate *validator.Validate
}

// NewApp builds the full client stack from configuration
func NewApp(cfg *config.Config) (*App, error) {
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	storage, err := newStorage(cfg.Session.Storage)
	if err != nil {
		return nil, err
	}

	store := session.NewStore(storage, cfg.Session.Timeout, log)

	// The coordinator talks to the renewal endpoint with a plain client so
	// a failing renewal can never re-enter 401 handling
	plainClient := &http.Client{Timeout: cfg.API.HTTPTimeout}
	coordinator := refresh.New(cfg.API.URL, store, plainClient, cfg.Session.RefreshTimeout, log)

	authedClient := &http.Client{
		Timeout:   cfg.API.HTTPTimeout,
		Transport: transport.New(nil, store, coordinator, log),
	}
	apiClient := api.New(cfg.API.URL, authedClient)

	cache, err := taskcache.Open(cfg.Session.CachePath)
	if err != nil {
		log.Warn().Err(err).Msg("Local task cache unavailable")
		cache = nil
	}

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		api:      apiClient,
		auth:     auth.New(apiClient, store, log),
		guard:    guard.New(store, coordinator, cfg.Session.TokenSkew, log),
		cache:    cache,
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		validate: validator.New(),
	}, nil
}

// newStorage builds the snapshot storage backend named in configuration
func newStorage(kind string) (session.Storage, error) {
	switch kind {
	case "file":
		return session.NewFileStorage()
	case "keyring":
		return session.NewKeyringStorage(), nil
	case "none":
		return session.NoopStorage{}, nil
	default:
		return nil, fmt.Errorf("unknown session storage '%s'", kind)
	}
}

// Run starts the interactive shell
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.watchSession(ctx)

	a.greet()
	// The shell loop and the in-command prompts must share one reader, or
	// piped input desynchronizes between them
	return runShell(ctx, a, a.prompt, a.reader, a.out)
}

// greet prints the restored identity, if any, so returning users see who
// they were even though they must log in again
func (a *App) greet() {
	cur := a.store.Current()
	if cur.User != nil && !cur.IsAuthenticated {
		fmt.Fprintf(a.out, "Welcome back, %s. Please log in to continue.\n", cur.User.Email)
	}
}

// prompt renders the shell prompt from the current session
func (a *App) prompt() string {
	cur := a.store.Current()
	if cur.IsAuthenticated {
		return fmt.Sprintf("taskdeck (%s)> ", cur.UserEmail())
	}
	return "taskdeck> "
}

// watchSession observes the session change feed and tells the user when the
// session is torn down behind their back (e.g. renewal failed mid-command)
func (a *App) watchSession(ctx context.Context) {
	wasAuthenticated := false
	for cur := range a.store.Subscribe(ctx) {
		if wasAuthenticated && !cur.IsAuthenticated {
			fmt.Fprintln(a.out, "Session expired. Please log in again.")
		}
		wasAuthenticated = cur.IsAuthenticated
	}
}

// ensureAuthenticated gates task commands behind the session guard
func (a *App) ensureAuthenticated(ctx context.Context) error {
	if decision := a.guard.Check(ctx); !decision.Allowed {
		return errNotAuthenticated
	}
	return nil
}

func (a *App) isLoggedIn() bool {
	return a.store.IsAuthenticated()
}

// resolveEmail takes the email from the argument, the environment, or an
// interactive prompt, and validates it
func (a *App) resolveEmail(arg string) (string, error) {
	email := arg
	if email == "" {
		email = os.Getenv("TASKDECK_EMAIL")
	}
	if email == "" {
		// Only prompt when stdin is a real terminal
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return "", fmt.Errorf("email is required in non-interactive mode (pass it as an argument or set TASKDECK_EMAIL)")
		}
		line, err := a.readLine("Email: ")
		if err != nil {
			return "", err
		}
		email = line
	}
	if err := a.validate.Var(email, "required,email"); err != nil {
		return "", fmt.Errorf("'%s' is not a valid email address", email)
	}
	return email, nil
}

// readLine prompts and reads one trimmed line of input
func (a *App) readLine(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	line, err := a.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Login authenticates by email, offering registration for unknown users
func (a *App) Login(ctx context.Context, emailArg string) error {
	email, err := a.resolveEmail(emailArg)
	if err != nil {
		return err
	}

	user, err := a.auth.Login(ctx, email)
	if errors.Is(err, api.ErrUserNotFound) {
		answer, promptErr := a.readLine(fmt.Sprintf("No account for %s. Create one? [y/N] ", email))
		if promptErr != nil {
			return promptErr
		}
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			return nil
		}
		user, err = a.auth.Register(ctx, email)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "✓ Logged in as %s\n", user.Email)
	return nil
}

// Register creates an account and logs it in
func (a *App) Register(ctx context.Context, emailArg string) error {
	email, err := a.resolveEmail(emailArg)
	if err != nil {
		return err
	}

	user, err := a.auth.Register(ctx, email)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "✓ Account created, logged in as %s\n", user.Email)
	return nil
}

// Logout clears the session and drops the user's cached tasks
func (a *App) Logout(ctx context.Context) error {
	if a.cache != nil {
		if email := a.store.Current().UserEmail(); email != "" {
			if err := a.cache.Purge(ctx, email); err != nil {
				a.log.Warn().Err(err).Msg("Failed to purge task cache")
			}
		}
	}

	a.auth.Logout()
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

// Whoami prints the current identity and session state
func (a *App) Whoami(ctx context.Context) error {
	cur := a.store.Current()
	if cur.User == nil {
		fmt.Fprintln(a.out, "Not logged in.")
		return nil
	}

	fmt.Fprintf(a.out, "User:  %s", cur.User.Email)
	if cur.User.Name != "" {
		fmt.Fprintf(a.out, " (%s)", cur.User.Name)
	}
	fmt.Fprintln(a.out)

	if cur.IsAuthenticated {
		fmt.Fprintf(a.out, "State: logged in, session stale in %s\n", a.store.TimeRemaining().Round(time.Second))
	} else {
		fmt.Fprintln(a.out, "State: logged out (login required)")
	}
	return nil
}

// List prints the user's tasks, falling back to the local cache when the
// API is unreachable
func (a *App) List(ctx context.Context) error {
	if err := a.ensureAuthenticated(ctx); err != nil {
		return err
	}
	email := a.store.Current().UserEmail()

	tasks, err := a.api.ListTasks(ctx, email)
	if err != nil {
		if a.cache == nil {
			return err
		}
		cached, cacheErr := a.cache.Tasks(ctx, email)
		if cacheErr != nil || len(cached) == 0 {
			return err
		}
		a.log.Warn().Err(err).Msg("API unreachable, showing cached tasks")
		banner := "(offline: showing cached tasks)"
		if syncedAt, syncErr := a.cache.SyncedAt(ctx, email); syncErr == nil && !syncedAt.IsZero() {
			banner = fmt.Sprintf("(offline: showing tasks cached %s)", syncedAt.Format(time.RFC822))
		}
		fmt.Fprintln(a.out, banner)
		a.printTasks(cached)
		return nil
	}

	if a.cache != nil {
		if cacheErr := a.cache.ReplaceAll(ctx, email, tasks); cacheErr != nil {
			a.log.Warn().Err(cacheErr).Msg("Failed to refresh task cache")
		}
	}

	a.store.UpdateActivity()
	a.printTasks(tasks)
	return nil
}

// printTasks lists the active tasks; deactivated ones stay hidden
func (a *App) printTasks(tasks []api.Task) {
	shown := 0
	for _, task := range tasks {
		if !task.IsActive {
			continue
		}
		shown++
		marker := " "
		if task.IsCompleted {
			marker = "x"
		}
		fmt.Fprintf(a.out, "[%s] %s  %s\n", marker, task.ID, task.Title)
		if task.Description != "" {
			fmt.Fprintf(a.out, "        %s\n", task.Description)
		}
	}
	if shown == 0 {
		fmt.Fprintln(a.out, "No tasks.")
	}
}

// Add creates a task with the given title and optional description
func (a *App) Add(ctx context.Context, title, description string) error {
	if err := a.ensureAuthenticated(ctx); err != nil {
		return err
	}
	if title == "" {
		return fmt.Errorf("task title is required")
	}

	cur := a.store.Current()
	task, err := a.api.CreateTask(ctx, api.NewTask{
		UserID:      cur.User.ID,
		Title:       title,
		Description: description,
	})
	if err != nil {
		return err
	}

	a.store.UpdateActivity()
	fmt.Fprintf(a.out, "✓ Created task %s\n", task.ID)
	return nil
}

// Edit replaces a task's title and, when given, its description
func (a *App) Edit(ctx context.Context, id, title, description string) error {
	if err := a.ensureAuthenticated(ctx); err != nil {
		return err
	}
	if id == "" || title == "" {
		return fmt.Errorf("usage: edit <id> <title> [description]")
	}

	patch := api.TaskPatch{Title: &title}
	if description != "" {
		patch.Description = &description
	}

	task, err := a.api.UpdateTask(ctx, id, patch)
	if err != nil {
		return err
	}

	a.store.UpdateActivity()
	fmt.Fprintf(a.out, "✓ Updated task %s\n", task.ID)
	return nil
}

// Complete marks a task as done
func (a *App) Complete(ctx context.Context, id string) error {
	if err := a.ensureAuthenticated(ctx); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("task id is required")
	}

	task, err := a.api.CompleteTask(ctx, id)
	if err != nil {
		return err
	}

	a.store.UpdateActivity()
	fmt.Fprintf(a.out, "✓ Completed task %s\n", task.ID)
	return nil
}

// Delete removes a task
func (a *App) Delete(ctx context.Context, id string) error {
	if err := a.ensureAuthenticated(ctx); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("task id is required")
	}

	if err := a.api.DeleteTask(ctx, id); err != nil {
		return err
	}

	a.store.UpdateActivity()
	fmt.Fprintf(a.out, "✓ Deleted task %s\n", id)
	return nil
}
