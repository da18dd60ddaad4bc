package admin

import (
	"fmt"
	"io"
	"os"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/service"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// personaFile is the YAML layout accepted by persona import.
type personaFile struct {
	Personas []personaSpec `yaml:"personas"`
}

type personaSpec struct {
	Name              string         `yaml:"name"`
	Role              string         `yaml:"role"`
	PersonalityTraits map[string]any `yaml:"personality_traits"`
	PainPoints        []string       `yaml:"pain_points"`
	Objections        []string       `yaml:"objections"`
	Background        string         `yaml:"background"`
}

// parsePersonas decodes and validates a persona file for tenantID.
func parsePersonas(r io.Reader, tenantID string) ([]service.CreatePersonaInput, error) {
	var f personaFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}
	if len(f.Personas) == 0 {
		return nil, fmt.Errorf("persona file lists no personas")
	}

	out := make([]service.CreatePersonaInput, len(f.Personas))
	for i, p := range f.Personas {
		role := domain.PersonaRole(p.Role)
		if p.Name == "" || !role.IsValid() {
			return nil, fmt.Errorf("persona %d: name and a valid role are required", i+1)
		}
		out[i] = service.CreatePersonaInput{
			TenantID:          tenantID,
			Name:              p.Name,
			Role:              role,
			PersonalityTraits: p.PersonalityTraits,
			PainPoints:        p.PainPoints,
			Objections:        p.Objections,
			Background:        p.Background,
		}
	}
	return out, nil
}

func PersonaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage simulated customer personas",
	}

	cmd.AddCommand(PersonaImportCmd())
	cmd.AddCommand(PersonaListCmd())

	return cmd
}

func PersonaImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create personas from a YAML file",
		Long: `Create personas from a YAML file of the form:

  personas:
    - name: Marina
      role: gatekeeper
      personality_traits: {patience: low}
      pain_points: [too many cold calls]
      objections: [send me an email]
      background: Executive assistant at a logistics firm.`,
		Args: cobra.ExactArgs(1),
		RunE: runPersonaImport,
	}

	cmd.Flags().StringP("company", "c", "", "Company ID or name (required)")
	_ = cmd.MarkFlagRequired("company")

	return cmd
}

func runPersonaImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	companyRef, _ := cmd.Flags().GetString("company")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	companyID, err := resolveCompanyID(ctx, a, companyRef)
	if err != nil {
		return err
	}
	inputs, err := parsePersonas(f, companyID)
	if err != nil {
		return err
	}

	svc := a.personaService()
	for _, in := range inputs {
		p, err := svc.Create(ctx, in)
		if err != nil {
			return fmt.Errorf("failed to create persona %s: %w", in.Name, err)
		}
		fmt.Printf("Persona created: %s (%s, %s)\n", p.Name, p.Role, p.ID)
	}
	return nil
}

func PersonaListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a company's personas",
		RunE:  runPersonaList,
	}

	cmd.Flags().StringP("company", "c", "", "Company ID or name (required)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("company")

	return cmd
}

func runPersonaList(cmd *cobra.Command, args []string) error {
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
	personas, err := a.personaService().List(ctx, companyID)
	if err != nil {
		return fmt.Errorf("failed to list personas: %w", err)
	}

	if outputFormat == "json" {
		items := make([]map[string]any, len(personas))
		for i, p := range personas {
			items[i] = map[string]any{
				"id":         p.ID,
				"name":       p.Name,
				"role":       p.Role,
				"created_at": p.CreatedAt,
			}
		}
		return printJSON(map[string]any{"items": items})
	}
	if len(personas) == 0 {
		fmt.Printf("No personas found for company %s\n", companyID)
		return nil
	}
	for _, p := range personas {
		fmt.Printf("  %s: %s (%s)\n", p.ID, p.Name, p.Role)
	}
	return nil
}
