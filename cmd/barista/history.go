package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"barista/internal/database"
)

var historyLimit int

var errNoHistory = errors.New("execution history needs a sqlite, postgres or redis stats backend")

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the most recent recipe runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := &app{log: zap.NewNop().Sugar()}
		defer a.close()
		if err := a.openStats(cmd.Context()); err != nil {
			return err
		}
		if a.history == nil {
			return errNoHistory
		}

		rows, err := a.history.ListExecutions(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		out := []string{"Finished|Recipe|Status|Duration|Reason"}
		for _, row := range rows {
			out = append(out, fmt.Sprintf("%s|%s|%s|%s|%s",
				row.EndTime.Local().Format(time.DateTime),
				row.RecipeName,
				row.Status,
				row.EndTime.Sub(row.StartTime).Round(time.Second),
				row.Reason,
			))
		}
		cmd.Println(columnize.SimpleFormat(out))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", database.DefaultHistoryLimit, "number of runs to show")
	rootCmd.AddCommand(historyCmd)
}
