package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/driveport/api/internal/infra/postgres"
	"github.com/driveport/api/pkg/domain/accesscontrol"
)

var routePermCmd = &cobra.Command{
	Use:     "route-permissions",
	Aliases: []string{"rp"},
	Short:   "Manage route-to-permission mappings",
}

var routePermListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all route-permission mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		mappings, err := postgres.NewRoutePermissionRepository(db).List(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROUTE\tPERMISSION\tACTIVE\tUPDATED")
		for _, rp := range mappings {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n",
				rp.RouteName(),
				rp.RequiredPermission(),
				rp.IsActive(),
				rp.UpdatedAt().Format("2006-01-02 15:04"),
			)
		}
		return w.Flush()
	},
}

var routePermCreateCmd = &cobra.Command{
	Use:   "create <route> <permission>",
	Short: "Map a route to a required permission",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rp, err := accesscontrol.NewRoutePermission(args[0], args[1])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		if err := postgres.NewRoutePermissionRepository(db).Create(ctx, rp); err != nil {
			return err
		}
		cmd.Printf("Route %q now requires %q\n", rp.RouteName(), rp.RequiredPermission())
		return nil
	},
}

var routePermDeactivateCmd = &cobra.Command{
	Use:   "deactivate <route>",
	Short: "Deactivate the active mapping for a route",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		repo := postgres.NewRoutePermissionRepository(db)
		rp, err := repo.GetActiveByRoute(ctx, args[0])
		if err != nil {
			return err
		}
		rp.Deactivate()
		if err := repo.Update(ctx, rp); err != nil {
			return err
		}
		cmd.Printf("Route %q no longer carries a dynamic requirement\n", rp.RouteName())
		return nil
	},
}

func init() {
	routePermCmd.AddCommand(routePermListCmd)
	routePermCmd.AddCommand(routePermCreateCmd)
	routePermCmd.AddCommand(routePermDeactivateCmd)
}
