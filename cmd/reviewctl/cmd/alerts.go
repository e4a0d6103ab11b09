package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/collinco2/sentinelforge-sub000/internal/workflow/override"
)

// errReported — ошибка, о которой пользователь уже уведомлён.
var errReported = errors.New("операция не выполнена")

var errNotAuthenticated = errors.New("not authenticated: set SF_TOKEN")

func parseAlertID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid alert id %q", arg)
	}
	return id, nil
}

func newWhoamiCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session identity and capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, ok := app().Session.CurrentIdentity()
			if !ok {
				return errNotAuthenticated
			}
			caps := app().Session.Capabilities()

			var granted []string
			if caps.CanOverrideRiskScores {
				granted = append(granted, "override risk scores")
			}
			if caps.CanViewAuditTrail {
				granted = append(granted, "view audit trail")
			}
			if caps.CanManageRoles {
				granted = append(granted, "manage roles")
			}
			if len(granted) == 0 {
				granted = append(granted, "read only")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User:         %s\n", identity.Username)
			fmt.Fprintf(out, "ID:           %s\n", identity.ID)
			fmt.Fprintf(out, "Role:         %s\n", identity.Role)
			fmt.Fprintf(out, "Capabilities: %s\n", strings.Join(granted, ", "))
			return nil
		},
	}
}

func newAlertsCommand(app func() *App) *cobra.Command {
	var limit, offset int
	c := &cobra.Command{
		Use:   "alerts",
		Short: "List alerts with their effective risk scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			alerts, total, err := app().API.ListAlerts(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSEVERITY\tRISK\tOVERRIDDEN")
			for _, a := range alerts {
				overridden := ""
				if a.IsOverridden() {
					overridden = "yes"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", a.ID, a.Name, a.Severity, a.EffectiveRiskScore(), overridden)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Sprintf("Showing %d of %d alerts", len(alerts), total))
			return nil
		},
	}
	c.Flags().IntVar(&limit, "limit", 50, "Page size")
	c.Flags().IntVar(&offset, "offset", 0, "Page offset")
	return c
}

func newOverrideCommand(app func() *App) *cobra.Command {
	var score int
	var justification string
	c := &cobra.Command{
		Use:   "override <alert-id>",
		Short: "Override the risk score of an alert",
		Long: `Override the risk score of an alert.

The score is clamped to 0..100. A justification is required and is
recorded in the audit trail.

Examples:
  reviewctl override 42 --score 20 --justification "known scanner"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAlertID(args[0])
			if err != nil {
				return err
			}
			a := app()
			ctx := cmd.Context()

			alert, err := a.API.GetAlert(ctx, id)
			if err != nil {
				return err
			}

			wf := override.New(*alert, a.Session, a.API, a.Notifier, a.Logger)
			if aff := wf.EditAffordance(); !aff.Enabled {
				return errors.New(aff.Label)
			}
			if err := wf.BeginEdit(); err != nil {
				return err
			}
			if err := wf.SetScore(score); err != nil {
				return err
			}
			if err := wf.SetJustification(justification); err != nil {
				return err
			}
			if !wf.SubmitAffordance().Enabled {
				return errors.New("justification is required")
			}

			if outcome := wf.Submit(ctx); outcome != override.OutcomeConfirmed {
				return errReported
			}
			updated := wf.Alert()
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %d %q: risk score %d\n", updated.ID, updated.Name, updated.EffectiveRiskScore())
			return nil
		},
	}
	c.Flags().IntVar(&score, "score", 0, "New risk score (0..100)")
	c.Flags().StringVar(&justification, "justification", "", "Reason for the override")
	_ = c.MarkFlagRequired("score")
	return c
}
