package main

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/arc-sec/siem-pipeline/internal/config"

	_ "github.com/golang-migrate/migrate/v4/database/clickhouse"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func newMigrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply column-store schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load()
			if err != nil {
				return err
			}

			ch := settings.ClickHouse
			dsn := fmt.Sprintf("clickhouse://%s?username=%s&password=%s&database=%s&x-multi-statement=true",
				ch.Addr(),
				url.QueryEscape(ch.User),
				url.QueryEscape(ch.Password),
				url.QueryEscape(ch.Database),
			)

			m, err := migrate.New("file://"+path, dsn)
			if err != nil {
				return fmt.Errorf("open migrations: %w", err)
			}
			defer m.Close()

			if err := m.Up(); err != nil {
				if errors.Is(err, migrate.ErrNoChange) {
					fmt.Println("schema up to date")
					return nil
				}
				return fmt.Errorf("apply migrations: %w", err)
			}

			fmt.Println("migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "migrations/clickhouse", "migrations directory")
	return cmd
}
