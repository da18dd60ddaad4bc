package admin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/spf13/cobra"
)

func KBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage a company's knowledge base",
		Long:  "Ingest documents, text and websites, inspect readiness, delete sources and run test searches.",
	}

	cmd.PersistentFlags().StringP("company", "c", "", "Company ID or name (required)")
	_ = cmd.MarkPersistentFlagRequired("company")

	cmd.AddCommand(KBIngestCmd())
	cmd.AddCommand(KBStatusCmd())
	cmd.AddCommand(KBDeleteCmd())
	cmd.AddCommand(KBSearchCmd())

	return cmd
}

func KBIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest documents, a text snippet or a website",
		RunE:  runKBIngest,
	}

	cmd.Flags().String("text", "", "Text content to ingest as a manual source")
	cmd.Flags().String("name", "", "Source name for --text")
	cmd.Flags().String("url", "", "Website to crawl and ingest")
	cmd.Flags().Int("max-pages", 0, "Maximum pages to crawl (0 uses the configured cap)")
	cmd.Flags().Bool("include-subdomains", false, "Follow links to subdomains of the start host")

	return cmd
}

func runKBIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	companyRef, _ := cmd.Flags().GetString("company")
	text, _ := cmd.Flags().GetString("text")
	name, _ := cmd.Flags().GetString("name")
	site, _ := cmd.Flags().GetString("url")
	maxPages, _ := cmd.Flags().GetInt("max-pages")
	subdomains, _ := cmd.Flags().GetBool("include-subdomains")

	if len(args) == 0 && text == "" && site == "" {
		return fmt.Errorf("nothing to ingest: pass files, --text or --url")
	}
	if text != "" && name == "" {
		return fmt.Errorf("--name is required with --text")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	companyID, err := resolveCompanyID(ctx, a, companyRef)
	if err != nil {
		return err
	}
	if err := a.openArchive(ctx); err != nil {
		return err
	}
	orchestrator, err := a.ingestion(a.embedder())
	if err != nil {
		return err
	}
	defer orchestrator.Close()

	var reports []domain.IngestionReport
	if len(args) > 0 {
		docs := make([]domain.Document, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			docs = append(docs, domain.Document{
				TenantID:   companyID,
				SourceName: domain.SanitizeSourceName(filepath.Base(path)),
				SourceType: domain.SourceTypeDocument,
				Raw:        data,
			})
		}
		reports = append(reports, orchestrator.IngestDocuments(ctx, docs)...)
	}
	if text != "" {
		reports = append(reports, orchestrator.IngestText(ctx, companyID, name, text))
	}
	if site != "" {
		pages, err := orchestrator.IngestWebsite(ctx, domain.CrawlRequest{
			TenantID:          companyID,
			URL:               site,
			MaxPages:          maxPages,
			IncludeSubdomains: subdomains,
		})
		if err != nil {
			return fmt.Errorf("failed to ingest website: %w", err)
		}
		reports = append(reports, pages...)
	}

	var failed int
	for _, r := range reports {
		fmt.Printf("  [%s] %s: %s\n", r.Status, r.SourceName, r.Message)
		if r.Status == domain.IngestionStatusError {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(reports))
	}
	return nil
}

func KBStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show knowledge base totals, readiness and sources",
		RunE:  runKBStatus,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runKBStatus(cmd *cobra.Command, args []string) error {
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
	svc := a.knowledgeService()
	status, err := svc.Status(ctx, companyID)
	if err != nil {
		return err
	}
	sources, err := svc.Sources(ctx, companyID)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		items := make([]map[string]any, len(sources))
		for i, s := range sources {
			items[i] = map[string]any{
				"source_name":   s.SourceName,
				"source_type":   s.SourceType,
				"status":        s.Status,
				"message":       s.Message,
				"chunks_stored": s.ChunksStored,
				"updated_at":    s.UpdatedAt,
			}
		}
		return printJSON(map[string]any{
			"total_documents":  status.TotalDocuments,
			"total_chunks":     status.TotalChunks,
			"total_embeddings": status.TotalEmbeddings,
			"last_updated":     status.LastUpdated,
			"is_ready":         status.IsReady,
			"sources":          items,
		})
	}

	fmt.Printf("Documents: %d  Chunks: %d  Embeddings: %d  Ready: %t\n",
		status.TotalDocuments, status.TotalChunks, status.TotalEmbeddings, status.IsReady)
	for _, s := range sources {
		fmt.Printf("  [%s] %s (%s, %d chunks)\n", s.Status, s.SourceName, s.SourceType, s.ChunksStored)
	}
	return nil
}

func KBDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <source_name>",
		Short: "Delete every chunk of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			companyRef, _ := cmd.Flags().GetString("company")

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			companyID, err := resolveCompanyID(ctx, a, companyRef)
			if err != nil {
				return err
			}
			if err := a.openArchive(ctx); err != nil {
				return err
			}
			n, err := a.knowledgeService().DeleteSource(ctx, companyID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d entries of %s\n", n, args[0])
			return nil
		},
	}
}

func KBSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a retrieval query and print the context a call would receive",
		Args:  cobra.ExactArgs(1),
		RunE:  runKBSearch,
	}

	cmd.Flags().IntP("limit", "n", 0, "Maximum results (0 uses the configured default)")
	cmd.Flags().Float64("threshold", -1, "Minimum similarity (negative uses the configured default)")

	return cmd
}

func runKBSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	companyRef, _ := cmd.Flags().GetString("company")
	limit, _ := cmd.Flags().GetInt("limit")
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	companyID, err := resolveCompanyID(ctx, a, companyRef)
	if err != nil {
		return err
	}
	engine, err := a.retrieval(a.embedder())
	if err != nil {
		return err
	}

	q := domain.RetrievalQuery{TenantID: companyID, Text: args[0], TopK: limit}
	if threshold >= 0 {
		q.Threshold = &threshold
	}
	results, err := engine.Retrieve(ctx, q)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No relevant knowledge found")
		return nil
	}
	fmt.Println(domain.FormatContext(results))
	return nil
}
