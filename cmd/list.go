package cmd

import (
	"context"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"iris/config"
	"iris/entities"
	"iris/repository"
	server2 "iris/server"
	"iris/service"
)

func withStore(ctx context.Context, cfg *config.Config, fn func(store repository.RecordStore) error) error {
	store, err := server2.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func meetings(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meetings",
		Short: "Inspect stored meetings",
	}
	cmd.AddCommand(meetingListCmd(cfg))
	return cmd
}

func meetingListCmd(cfg *config.Config) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List meetings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), cfg, func(store repository.RecordStore) error {
				all, err := store.GetAllMeetings(cmd.Context())
				if err != nil {
					return err
				}
				q := strings.ToLower(strings.TrimSpace(query))
				var rows []*entities.Meeting
				for _, m := range all {
					if q == "" || service.MatchesQuery(m, q) {
						rows = append(rows, m)
					}
				}
				sort.SliceStable(rows, func(i, j int) bool {
					return rows[i].CreatedAt.After(rows[j].CreatedAt)
				})

				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Progress", "Language", "Uploaded By", "Created"})
				for _, m := range rows {
					tw.AppendRow(table.Row{m.ID, m.Title, m.Stage, m.Progress, m.LanguageDisplayName, m.UploadedBy.Name, m.CreatedAt.Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "filter by title or uploader")
	return cmd
}

func tasks(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect stored tasks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), cfg, func(store repository.RecordStore) error {
				all, err := store.GetAllTasks(cmd.Context())
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Due", "Meeting"})
				for _, t := range all {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Assignee, t.DueDate, t.MeetingTitle})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}
