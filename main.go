package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-lending/internal/config"
	"library-lending/library"
	"library-lending/library/filestore"
	"library-lending/library/notify"
)

const amqpDialTimeout = 5 * time.Second

// app holds everything a command needs once configuration is resolved.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	mgr    *library.LibraryManager
	sess   *library.Session

	closers []io.Closer
	closed  bool
}

func (a *app) Close() {
	if a.closed {
		return
	}
	a.closed = true
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

type appOpener func(cfg config.Config, logOut io.Writer) (*app, error)

// openStore picks the persistence provider named by cfg.Backend.
func openStore(cfg config.Config, logger *slog.Logger) (library.Store, error) {
	switch cfg.Backend {
	case config.BackendJSON:
		return filestore.Open(cfg.DataDir, filestore.WithLogger(logger))
	default:
		return library.NewDatabase(cfg.DBPath, library.WithDatabaseLogger(logger))
	}
}

func openApp(cfg config.Config, logOut io.Writer) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.LogLevel}))
	a := &app{cfg: cfg, logger: logger}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	a.closers = append(a.closers, store)

	var notifier library.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.AMQPURL != "" {
		pub, err := notify.DialAMQP(cfg.AMQPURL, amqpDialTimeout, notify.WithQueue(cfg.AMQPQueue), notify.WithLogger(logger))
		if err != nil {
			// Lending works without the broker; events are only logged.
			logger.Warn("event publishing disabled", "error", err)
		} else {
			notifier = pub
			a.closers = append(a.closers, pub)
		}
	}

	a.mgr = library.NewLibraryManager(store,
		library.WithLoanDays(cfg.LoanDays),
		library.WithFineRate(cfg.FineRate),
		library.WithLogger(logger),
		library.WithNotifier(notifier),
	)
	a.sess = library.NewSession(store,
		library.WithBcryptCost(cfg.BcryptCost),
		library.WithSessionLogger(logger),
	)
	return a, nil
}

// readPassword reads a password with masking when stdin is a terminal.
func readPassword(out io.Writer, fallback func(string) (string, error)) func(string) (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return fallback
	}
	return func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		fmt.Fprintln(out) // newline after masked input
		return strings.TrimSpace(string(b)), nil
	}
}

func newRootCmd(open appOpener) *cobra.Command {
	var (
		backend string
		dbPath  string
		dataDir string
		a       *app
	)

	// withApp closes the app when the command returns. Cobra skips the
	// post-run hooks after a RunE error, so this cannot live there.
	withApp := func(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			defer a.Close()
			return run(cmd, args, a)
		}
	}

	root := &cobra.Command{
		Use:           "library-lending",
		Short:         "Library lending system: catalog, loans, returns and fines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if backend != "" {
				cfg.Backend = config.Backend(strings.ToLower(backend))
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			a, err = open(cfg, cmd.ErrOrStderr())
			return err
		},
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			res, err := library.Bootstrap(cmd.Context(), a.mgr, a.sess)
			if err != nil {
				return err
			}
			printBootstrap(cmd.OutOrStdout(), res)

			m := newMenu(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a.mgr, a.sess)
			m.readSecret = readPassword(cmd.OutOrStdout(), m.prompt)
			return m.run()
		}),
	}
	root.PersistentFlags().StringVar(&backend, "backend", "", "persistence backend: sqlite or json (overrides LIBRARY_BACKEND)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides LIBRARY_DB_PATH)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "JSON data directory (overrides LIBRARY_DATA_DIR)")

	root.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create the default admin and sample catalog if missing",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			res, err := library.Bootstrap(cmd.Context(), a.mgr, a.sess)
			if err != nil {
				return err
			}
			if !res.AdminCreated && res.BooksAdded == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to seed.")
				return nil
			}
			printBootstrap(cmd.OutOrStdout(), res)
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "passwd <username>",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			m := newMenu(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a.mgr, a.sess)
			m.readSecret = readPassword(cmd.OutOrStdout(), m.prompt)
			return changePassword(m, args[0])
		}),
	})
	return root
}

func changePassword(m *menu, username string) error {
	current, err := m.readSecret("Current password: ")
	if err != nil {
		return err
	}
	if _, err := m.sess.Login(m.ctx, username, current); err != nil {
		return err
	}
	defer m.sess.Logout()

	next, err := m.readSecret("New password: ")
	if err != nil {
		return err
	}
	if err := m.sess.ChangePassword(m.ctx, current, next); err != nil {
		return err
	}
	m.println("Password changed successfully.")
	return nil
}

func printBootstrap(w io.Writer, res library.BootstrapResult) {
	if res.AdminCreated {
		fmt.Fprintln(w, "Admin user created. Username: admin, Password: admin123")
	}
	if res.BooksAdded > 0 {
		fmt.Fprintf(w, "Added %d sample books to the library.\n", res.BooksAdded)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openApp).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
