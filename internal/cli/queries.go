package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mickamy/queryiq/internal/model"
)

func newQueriesCmd(a *app) *cobra.Command {
	var (
		user   string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "List stored queries, slowest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var logs []model.QueryLog
			if user != "" {
				logs, err = st.QueriesByUser(ctx, user)
			} else {
				logs, err = st.SlowQueries(ctx, limit)
			}
			if err != nil {
				return err
			}
			if limit > 0 && len(logs) > limit {
				logs = logs[:limit]
			}
			if logs == nil {
				logs = []model.QueryLog{}
			}

			w := cmd.OutOrStdout()
			if ok, err := writeStructured(w, format, logs); ok {
				return err
			}
			if format != "table" {
				return fmt.Errorf("unknown format %q (expected table, json or yaml)", format)
			}
			printQueries(w, logs)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "only list queries executed by this database role")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of queries")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json or yaml")
	return cmd
}
