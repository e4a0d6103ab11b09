package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/collinco2/sentinelforge-sub000/internal/auditfeed"
)

func newAuditCommand(app func() *App) *cobra.Command {
	var limit int
	var full bool
	c := &cobra.Command{
		Use:   "audit <alert-id>",
		Short: "Show the risk score override history of an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAlertID(args[0])
			if err != nil {
				return err
			}
			return showFeed(cmd, app(), auditfeed.ForAlert(id), limit, full)
		},
	}
	c.Flags().IntVar(&limit, "limit", auditfeed.DefaultLimit, "Maximum number of entries")
	c.Flags().BoolVar(&full, "full", false, "Show full justifications")
	return c
}

func newRoleAuditCommand(app func() *App) *cobra.Command {
	var limit int
	var full bool
	c := &cobra.Command{
		Use:   "role-audit",
		Short: "Show the role change history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showFeed(cmd, app(), auditfeed.Directory(), limit, full)
		},
	}
	c.Flags().IntVar(&limit, "limit", auditfeed.DefaultLimit, "Maximum number of entries")
	c.Flags().BoolVar(&full, "full", false, "Show full justifications")
	return c
}

// showFeed загружает журнал и печатает его текущее состояние.
func showFeed(cmd *cobra.Command, a *App, subject auditfeed.Subject, limit int, full bool) error {
	feed := auditfeed.New(a.Session, a.API, a.Logger)
	if err := feed.Load(cmd.Context(), subject, limit); errors.Is(err, auditfeed.ErrHidden) {
		return errors.New("you do not have permission to view the audit trail")
	}

	if full {
		for _, e := range feed.View().Entries {
			if e.Truncated && !e.Expanded {
				feed.ToggleExpanded(e.ID)
			}
		}
	}

	out := cmd.OutOrStdout()
	view := feed.View()
	switch view.State {
	case auditfeed.StateError:
		fmt.Fprintln(out, errorStyle.Sprint("Failed to load audit trail: "+view.ErrorMessage))
		return errReported
	case auditfeed.StateEmpty:
		fmt.Fprintln(out, dimStyle.Sprint("No audit entries"))
		return nil
	case auditfeed.StateLoading:
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSUBJECT\tACTOR\tFROM\tTO\tJUSTIFICATION")
	for _, e := range view.Entries {
		subj := e.SubjectName
		if subj == "" {
			subj = e.SubjectID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			subj, e.ActorUsername, e.OriginalValue, e.NewValue, e.DisplayJustification,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out, dimStyle.Sprintf("%d of %d entries", len(view.Entries), view.Total))
	return nil
}
