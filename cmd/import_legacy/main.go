// Command import_legacy copies a JSON data directory (books.json, users.json,
// transactions.json) into the SQLite database.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"library-lending/internal/config"
	"library-lending/library"
	"library-lending/library/filestore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var (
		dataDir string
		dbPath  string
		fresh   bool
	)

	cmd := &cobra.Command{
		Use:          "import_legacy",
		Short:        "Import JSON library data into SQLite",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))
			out := cmd.OutOrStdout()

			if _, err := os.Stat(filepath.Join(dataDir, "books.json")); err != nil {
				return fmt.Errorf("no books.json in %s: %w", dataDir, err)
			}

			if fresh {
				fmt.Fprintln(out, "Cleaning up existing database files...")
				for _, suffix := range []string{"", "-shm", "-wal"} {
					if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
						fmt.Fprintf(out, "Warning: Could not remove %s: %v\n", dbPath+suffix, err)
					}
				}
			}

			src, err := filestore.Open(dataDir, filestore.WithLogger(logger))
			if err != nil {
				return err
			}
			defer src.Close()

			dst, err := library.NewDatabase(dbPath, library.WithDatabaseLogger(logger))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer dst.Close()

			fmt.Fprintf(out, "Importing %s into %s...\n", dataDir, dbPath)
			stats, err := library.Transfer(cmd.Context(), src, dst)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}

			fmt.Fprintf(out, "Imported %d books, %d users, %d transactions.\n", stats.Books, stats.Users, stats.Transactions)
			if len(stats.SkippedUsers) > 0 {
				fmt.Fprintf(out, "Skipped users whose username is already taken: %s\n", strings.Join(stats.SkippedUsers, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", cfg.DataDir, "directory holding the JSON data files")
	cmd.Flags().StringVar(&dbPath, "db", cfg.DBPath, "SQLite database to import into")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "delete the database before importing")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
