package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-mizu/sqlmap"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query SQL",
	Short: "Run a query and print each row as JSON",
	Long: `Run a query and print each row as one JSON object per line.

Examples:
  sqlmap query --dsn data.db "SELECT * FROM users WHERE id = @id" -p id=7
  sqlmap query --dsn data.db "SELECT * FROM users WHERE id IN @ids" -p ids=1,2,3
  sqlmap query --driver pgx --dsn "$DATABASE_URL" --native-arrays \
    "SELECT * FROM users WHERE id = ANY(@ids)" -p ids=1,2,3`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, strings.Join(args, " "))
		if err != nil {
			return err
		}
		defer s.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		n := 0
		for row, err := range sqlmap.StreamCommand[sqlmap.Row](commandContext(cmd), s.db, s.cmd) {
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}
			if err := enc.Encode(row); err != nil {
				return err
			}
			n++
		}
		s.logger.Debug("query finished", "rows", n)
		return nil
	},
}

var execCmd = &cobra.Command{
	Use:   "exec SQL",
	Short: "Run a statement and print the rows affected",
	Long: `Run a statement that returns no rows and print the number of rows affected.

Examples:
  sqlmap exec --dsn data.db "UPDATE users SET name = @name WHERE id = @id" -p id=1 -p name=Bob`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, strings.Join(args, " "))
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := sqlmap.ExecCommand(commandContext(cmd), s.db, s.cmd)
		if err != nil {
			return fmt.Errorf("exec failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d row(s) affected\n", n)
		return nil
	},
}

var multiCmd = &cobra.Command{
	Use:   "multi SQL",
	Short: "Run a multi-statement query and print every result set",
	Long: `Run a query returning several result sets. Each result set is
introduced by a "-- result N" line followed by its rows as JSON lines.

Drivers that do not return several result sets print only the first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, strings.Join(args, " "))
		if err != nil {
			return err
		}
		defer s.Close()

		g, err := sqlmap.QueryMultipleCommand(commandContext(cmd), s.db, s.cmd)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		defer g.Close()

		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)
		for !g.Done() {
			idx := g.Index()
			rows, err := sqlmap.Read[sqlmap.Row](g)
			if err != nil {
				return fmt.Errorf("result %d: %w", idx, err)
			}
			fmt.Fprintf(out, "-- result %d\n", idx)
			for _, row := range rows {
				if err := enc.Encode(row); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd, execCmd, multiCmd)
}
