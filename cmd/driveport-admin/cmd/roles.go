package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/driveport/api/internal/infra/postgres"
	"github.com/driveport/api/pkg/domain/role"
	"github.com/driveport/api/pkg/domain/shared"
)

var (
	flagRoleLevel       int
	flagRoleParent      string
	flagRoleDescription string
	flagRolePermissions []string
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage roles and their permissions",
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		roles, err := postgres.NewRoleRepository(db).List(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tNAME\tLEVEL\tPARENT\tPERMISSIONS")
		for _, r := range roles {
			parent := "-"
			if r.ParentID() != nil {
				parent = r.ParentID().String()
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				r.Slug(),
				r.Name(),
				r.Level(),
				parent,
				strings.Join(r.Permissions(), ","),
			)
		}
		return w.Flush()
	},
}

var rolesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		repo := postgres.NewRoleRepository(db)

		var parentID *shared.ID
		if flagRoleParent != "" {
			parent, err := repo.GetBySlug(ctx, flagRoleParent)
			if err != nil {
				return fmt.Errorf("parent role %q: %w", flagRoleParent, err)
			}
			id := parent.ID()
			parentID = &id
		}

		r, err := role.New(args[0], flagRoleDescription, flagRoleLevel, parentID, flagRolePermissions,
			func(id shared.ID) (*shared.ID, error) {
				return repo.ParentOf(ctx, id)
			})
		if err != nil {
			return err
		}

		if err := repo.Create(ctx, r); err != nil {
			return err
		}
		cmd.Printf("Role %q created (level %d)\n", r.Slug(), r.Level())
		return nil
	},
}

func init() {
	rolesCreateCmd.Flags().IntVar(&flagRoleLevel, "level", 0, "Role level (higher outranks lower)")
	rolesCreateCmd.Flags().StringVar(&flagRoleParent, "parent", "", "Parent role slug to inherit from")
	rolesCreateCmd.Flags().StringVar(&flagRoleDescription, "description", "", "Role description")
	rolesCreateCmd.Flags().StringSliceVar(&flagRolePermissions, "permissions", nil, "Permissions granted by the role")

	rolesCmd.AddCommand(rolesListCmd)
	rolesCmd.AddCommand(rolesCreateCmd)
}
