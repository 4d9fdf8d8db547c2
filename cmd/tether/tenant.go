package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/tether/pkg/api"
	"github.com/cuemby/tether/pkg/types"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants and their alert recipients",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		email, _ := cmd.Flags().GetString("contact-email")

		tenant, err := apiClient(cmd).CreateTenant(&types.Tenant{
			ID:           id,
			Name:         args[0],
			ContactEmail: email,
		})
		if err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}
		fmt.Printf("✓ Tenant created: %s (%s)\n", tenant.Name, tenant.ID)
		return nil
	},
}

var tenantProfileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage tenant profiles",
}

var tenantProfileAddCmd = &cobra.Command{
	Use:   "add TENANT_ID EMAIL",
	Short: "Add a profile to a tenant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		role, _ := cmd.Flags().GetString("role")
		admin, _ := cmd.Flags().GetBool("admin")

		profile, err := apiClient(cmd).AddProfile(args[0], api.ProfileRequest{
			ID:    id,
			Email: args[1],
			Role:  types.ProfileRole(role),
			Admin: admin,
		})
		if err != nil {
			return fmt.Errorf("failed to add profile: %w", err)
		}
		fmt.Printf("✓ Profile added: %s (%s, %s)\n", profile.Email, profile.ID, profile.Role)
		return nil
	},
}

var tenantAuditCmd = &cobra.Command{
	Use:   "audit TENANT_ID",
	Short: "List alerts sent to a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := apiClient(cmd).ListAudit(args[0])
		if err != nil {
			return fmt.Errorf("failed to list audit entries: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No alerts sent")
			return nil
		}
		fmt.Printf("%-22s %-18s %-30s %s\n", "SENT", "KIND", "RECIPIENT", "SESSIONS")
		for _, e := range entries {
			fmt.Printf("%-22s %-18s %-30s %d\n",
				e.CreatedAt.Format(time.RFC3339), e.Kind, e.Recipient, len(e.Sessions))
		}
		return nil
	},
}

func init() {
	tenantCreateCmd.Flags().String("id", "", "Tenant ID (generated when empty)")
	tenantCreateCmd.Flags().String("contact-email", "", "Contact email used when no admin profile exists")

	tenantProfileAddCmd.Flags().String("id", "", "Profile ID (generated when empty)")
	tenantProfileAddCmd.Flags().String("role", "member", "Role (owner, admin, member)")
	tenantProfileAddCmd.Flags().Bool("admin", false, "Make this profile the tenant's designated alert recipient")

	tenantProfileCmd.AddCommand(tenantProfileAddCmd)
	tenantCmd.AddCommand(tenantCreateCmd)
	tenantCmd.AddCommand(tenantProfileCmd)
	tenantCmd.AddCommand(tenantAuditCmd)
}
