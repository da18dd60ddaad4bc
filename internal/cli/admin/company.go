package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// resolveCompanyID accepts a company id or name.
func resolveCompanyID(ctx context.Context, a *app, ref string) (string, error) {
	if _, err := uuid.Parse(ref); err == nil {
		company, err := a.companies.GetByID(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("company not found: %s", ref)
		}
		return company.ID, nil
	}

	company, err := a.companies.GetByName(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrCompanyNotFound) {
			return "", fmt.Errorf("company not found: %s", ref)
		}
		return "", err
	}
	return company.ID, nil
}

func CompanyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "company",
		Short: "Manage companies",
		Long:  "Create and list companies. Every knowledge base, persona and session belongs to one.",
	}

	cmd.AddCommand(CompanyCreateCmd())
	cmd.AddCommand(CompanyListCmd())

	return cmd
}

func CompanyCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new company",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompanyCreate,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runCompanyCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	outputFormat, _ := cmd.Flags().GetString("output")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	company, err := a.authService().CreateCompany(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(map[string]any{
			"id":         company.ID,
			"name":       company.Name,
			"created_at": company.CreatedAt,
		})
	}
	fmt.Printf("Company created: %s (%s)\n", company.Name, company.ID)
	return nil
}

func CompanyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all companies",
		RunE:  runCompanyList,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runCompanyList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	outputFormat, _ := cmd.Flags().GetString("output")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	companies, err := a.authService().ListCompanies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list companies: %w", err)
	}

	if outputFormat == "json" {
		items := make([]map[string]any, len(companies))
		for i, c := range companies {
			items[i] = map[string]any{
				"id":         c.ID,
				"name":       c.Name,
				"created_at": c.CreatedAt,
			}
		}
		return printJSON(map[string]any{"items": items})
	}

	if len(companies) == 0 {
		fmt.Println("No companies found")
		return nil
	}
	fmt.Println("Companies:")
	for _, c := range companies {
		fmt.Printf("  %s: %s (created: %s)\n", c.ID, c.Name, c.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
