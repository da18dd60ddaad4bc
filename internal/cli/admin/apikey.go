package admin

import (
	"fmt"

	"github.com/spf13/cobra"
)

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "Create, list, and revoke API keys",
	}

	cmd.AddCommand(APIKeyCreateCmd())
	cmd.AddCommand(APIKeyListCmd())
	cmd.AddCommand(APIKeyRevokeCmd())

	return cmd
}

func APIKeyCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Create a new API key for a company. The token is printed once.",
		RunE:  runAPIKeyCreate,
	}

	cmd.Flags().StringP("company", "c", "", "Company ID or name (required)")
	cmd.Flags().StringP("name", "n", "", "API key name (required)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	companyRef, _ := cmd.Flags().GetString("company")
	name, _ := cmd.Flags().GetString("name")
	outputFormat, _ := cmd.Flags().GetString("output")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	companyID, err := resolveCompanyID(ctx, a, companyRef)
	if err != nil {
		return err
	}

	authSvc := a.authService()
	plaintext, err := authSvc.CreateAPIKey(ctx, companyID, name)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	keys, err := authSvc.ListAPIKeys(ctx, companyID)
	if err != nil {
		return fmt.Errorf("failed to retrieve created key: %w", err)
	}
	var keyID string
	for _, k := range keys {
		if k.Name == name && !k.IsRevoked() {
			keyID = k.ID
		}
	}

	if outputFormat == "json" {
		return printJSON(map[string]any{
			"id":         keyID,
			"name":       name,
			"company_id": companyID,
			"token":      plaintext,
		})
	}
	fmt.Printf("API key created for company %s\n", companyID)
	fmt.Printf("Key ID: %s\n", keyID)
	fmt.Printf("Key Name: %s\n", name)
	fmt.Printf("Token: %s\n", plaintext)
	fmt.Println("\nSave this token now. It cannot be shown again.")
	return nil
}

func APIKeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for a company",
		RunE:  runAPIKeyList,
	}

	cmd.Flags().StringP("company", "c", "", "Company ID or name (required)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("company")

	return cmd
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	companyRef, _ := cmd.Flags().GetString("company")
	outputFormat, _ := cmd.Flags().GetString("output")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	companyID, err := resolveCompanyID(ctx, a, companyRef)
	if err != nil {
		return err
	}
	keys, err := a.authService().ListAPIKeys(ctx, companyID)
	if err != nil {
		return fmt.Errorf("failed to list API keys: %w", err)
	}

	if outputFormat == "json" {
		items := make([]map[string]any, len(keys))
		for i, key := range keys {
			items[i] = map[string]any{
				"id":         key.ID,
				"name":       key.Name,
				"company_id": key.CompanyID,
				"created_at": key.CreatedAt,
				"revoked_at": key.RevokedAt,
				"revoked":    key.IsRevoked(),
			}
		}
		return printJSON(map[string]any{"items": items})
	}

	if len(keys) == 0 {
		fmt.Printf("No API keys found for company %s\n", companyID)
		return nil
	}
	fmt.Printf("API keys for company %s:\n", companyID)
	for _, key := range keys {
		status := "active"
		if key.IsRevoked() {
			status = "revoked"
		}
		fmt.Printf("  %s: %s (%s, created: %s)\n", key.ID, key.Name, status, key.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func APIKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE:  runAPIKeyRevoke,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	keyID := args[0]
	outputFormat, _ := cmd.Flags().GetString("output")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.authService().RevokeAPIKey(ctx, keyID); err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(map[string]any{"id": keyID, "revoked": true})
	}
	fmt.Printf("API key %s revoked\n", keyID)
	return nil
}
