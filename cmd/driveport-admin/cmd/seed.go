package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/driveport/api/internal/infra/postgres"
	"github.com/driveport/api/pkg/domain/accesscontrol"
	"github.com/driveport/api/pkg/domain/principal"
	"github.com/driveport/api/pkg/domain/role"
	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/password"
)

var flagSeedFile string

// seedFile is the YAML layout consumed by the seed command.
type seedFile struct {
	Roles []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Level       int      `yaml:"level"`
		Parent      string   `yaml:"parent"`
		Permissions []string `yaml:"permissions"`
	} `yaml:"roles"`

	Routes map[string]string `yaml:"routes"`

	Admin struct {
		Identifier string   `yaml:"identifier"`
		Secret     string   `yaml:"secret"`
		Roles      []string `yaml:"roles"`
	} `yaml:"admin"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed roles, route permissions, and the first admin from a YAML file",
	Long: `seed loads a YAML file describing the baseline roles, route-permission
mappings, and the bootstrap admin account, and applies it to the database.

Existing roles and mappings are left untouched, so seeding is safe to re-run.
Parent roles must appear in the file before the roles that inherit from them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(flagSeedFile)
		if err != nil {
			return err
		}
		var seed seedFile
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		if err := seedRoles(ctx, cmd, db, &seed); err != nil {
			return err
		}
		if err := seedRoutes(ctx, cmd, db, &seed); err != nil {
			return err
		}
		return seedAdmin(ctx, cmd, db, &seed)
	},
}

func seedRoles(ctx context.Context, cmd *cobra.Command, db *postgres.DB, seed *seedFile) error {
	repo := postgres.NewRoleRepository(db)

	for _, spec := range seed.Roles {
		if _, err := repo.GetBySlug(ctx, role.NormalizeName(spec.Name)); err == nil {
			cmd.Printf("Role %q already exists, skipping\n", spec.Name)
			continue
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}

		var parentID *shared.ID
		if spec.Parent != "" {
			parent, err := repo.GetBySlug(ctx, role.NormalizeName(spec.Parent))
			if err != nil {
				return fmt.Errorf("parent role %q: %w", spec.Parent, err)
			}
			id := parent.ID()
			parentID = &id
		}

		r, err := role.New(spec.Name, spec.Description, spec.Level, parentID, spec.Permissions,
			func(id shared.ID) (*shared.ID, error) {
				return repo.ParentOf(ctx, id)
			})
		if err != nil {
			return fmt.Errorf("role %q: %w", spec.Name, err)
		}
		if err := repo.Create(ctx, r); err != nil {
			return fmt.Errorf("role %q: %w", spec.Name, err)
		}
		cmd.Printf("Role %q created\n", r.Slug())
	}
	return nil
}

func seedRoutes(ctx context.Context, cmd *cobra.Command, db *postgres.DB, seed *seedFile) error {
	repo := postgres.NewRoutePermissionRepository(db)

	for routeName, perm := range seed.Routes {
		rp, err := accesscontrol.NewRoutePermission(routeName, perm)
		if err != nil {
			return fmt.Errorf("route %q: %w", routeName, err)
		}
		err = repo.Create(ctx, rp)
		if errors.Is(err, shared.ErrAlreadyExists) {
			cmd.Printf("Route %q already mapped, skipping\n", routeName)
			continue
		}
		if err != nil {
			return fmt.Errorf("route %q: %w", routeName, err)
		}
		cmd.Printf("Route %q requires %q\n", routeName, perm)
	}
	return nil
}

func seedAdmin(ctx context.Context, cmd *cobra.Command, db *postgres.DB, seed *seedFile) error {
	if seed.Admin.Identifier == "" {
		return nil
	}
	if seed.Admin.Secret == "" {
		return errors.New("admin secret required when an admin is declared")
	}

	roleRepo := postgres.NewRoleRepository(db)
	principalRepo := postgres.NewPrincipalRepository(db)
	hasher := password.New()
	credentials := postgres.NewCredentialRepository(db, principalRepo, hasher)

	// Re-running the seed must not mint a second admin.
	if _, err := credentials.Verify(ctx, seed.Admin.Identifier, seed.Admin.Secret); err == nil {
		cmd.Printf("Admin %q already exists, skipping\n", seed.Admin.Identifier)
		return nil
	} else if !errors.Is(err, principal.ErrInvalidCredentials) {
		return err
	}

	var roles []*role.Role
	for _, slug := range seed.Admin.Roles {
		r, err := roleRepo.GetBySlug(ctx, role.NormalizeName(slug))
		if err != nil {
			return fmt.Errorf("admin role %q: %w", slug, err)
		}
		roles = append(roles, r)
	}

	p, err := principal.New(principal.KindAdmin, roles, nil)
	if err != nil {
		return err
	}
	if err := principalRepo.Create(ctx, p); err != nil {
		return err
	}
	if err := credentials.SetSecret(ctx, p.ID(), seed.Admin.Identifier, seed.Admin.Secret); err != nil {
		return err
	}

	cmd.Printf("Admin %q created with id %s\n", seed.Admin.Identifier, p.ID())
	return nil
}

func init() {
	seedCmd.Flags().StringVar(&flagSeedFile, "file", "seed.yaml", "Path to the seed YAML file")
}
