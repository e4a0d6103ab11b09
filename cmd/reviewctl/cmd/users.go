package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
	"github.com/collinco2/sentinelforge-sub000/internal/workflow/rolemgmt"
)

func newRoleWorkflow(a *App) *rolemgmt.Workflow {
	return rolemgmt.New(a.Session, a.API, a.Notifier, a.Logger,
		rolemgmt.WithSessionRefresher(a.Session),
	)
}

// loadDirectory загружает справочник; ошибка загрузки уже показана уведомлением.
func loadDirectory(cmd *cobra.Command, wf *rolemgmt.Workflow) error {
	err := wf.Load(cmd.Context())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rolemgmt.ErrNotAdmin):
		return errors.New("you do not have permission to manage roles")
	default:
		return errReported
	}
}

func newUsersCommand(app func() *App) *cobra.Command {
	var role string
	c := &cobra.Command{
		Use:   "users",
		Short: "List users and their roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if role != "" && !rbac.IsValidRole(role) {
				return fmt.Errorf("invalid role %q", role)
			}
			wf := newRoleWorkflow(app())
			if err := loadDirectory(cmd, wf); err != nil {
				return err
			}
			wf.SetFilter(rbac.Role(role))

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tROLE\tACTIVE")
			for _, u := range wf.Visible() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", u.ID, u.Username, u.Role, u.IsActive)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Sprint(wf.CountLabel()))
			return nil
		},
	}
	c.Flags().StringVar(&role, "role", "", "Show only users with this role")
	return c
}

func newSetRoleCommand(app func() *App) *cobra.Command {
	var yes bool
	c := &cobra.Command{
		Use:   "set-role <user-id> <role>",
		Short: "Change the role of a user",
		Long: `Change the role of a user after confirmation.

Roles: viewer, analyst, auditor, admin. Your own role cannot be changed.

Examples:
  reviewctl set-role 3f2a... analyst
  reviewctl set-role 3f2a... auditor --yes`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf := newRoleWorkflow(app())
			if err := loadDirectory(cmd, wf); err != nil {
				return err
			}

			err := wf.Select(cmd.Context(), args[0], rbac.Role(args[1]))
			switch {
			case errors.Is(err, rolemgmt.ErrSelfRoleChange):
				return errReported
			case errors.Is(err, rolemgmt.ErrRoleUnchanged):
				fmt.Fprintf(cmd.OutOrStdout(), "User %s already has role %s\n", args[0], args[1])
				return nil
			case err != nil:
				return err
			}

			prompt, _ := wf.ConfirmationPrompt()
			if !yes && !confirm(cmd, prompt) {
				_ = wf.Discard()
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}

			if outcome := wf.Confirm(cmd.Context()); outcome != rolemgmt.OutcomeApplied {
				return errReported
			}
			return nil
		},
	}
	c.Flags().BoolVarP(&yes, "yes", "y", false, "Apply without confirmation")
	return c
}

// confirm спрашивает подтверждение в stdin. Согласие — только явное y/yes.
func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
