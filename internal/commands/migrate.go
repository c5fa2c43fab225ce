package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations in lexical order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("failed to read migrations dir %s: %w", dir, err)
			}
			var files []string
			for _, e := range entries {
				if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
					files = append(files, e.Name())
				}
			}
			sort.Strings(files)

			for _, name := range files {
				sql, err := os.ReadFile(filepath.Join(dir, name))
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", name, err)
				}
				log.WithField("file", name).Info("applying migration")
				if _, err := pool.Exec(ctx, string(sql)); err != nil {
					return fmt.Errorf("migration %s failed: %w", name, err)
				}
			}
			log.WithField("count", len(files)).Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "migrations directory")
	return cmd
}
