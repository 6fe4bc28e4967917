package cli

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orthopilot/claimpilot/internal/llm"
	"github.com/orthopilot/claimpilot/internal/model"
	"github.com/orthopilot/claimpilot/internal/store"
)

// embedBatchSize is how many catalog descriptions go into one
// embedding request.
const embedBatchSize = 100

var (
	codesFile string
	codesType string
)

// codesCmd represents the codes command group
var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Manage the CPT/ICD-10 reference catalog",
	Long: `Import medical codes into the reference catalog and backfill the
vector embeddings that power semantic diagnosis retrieval.`,
}

var codesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import codes from a CSV file",
	Long: `Import reference codes from a CSV file with a header row and two
columns: code_value, description. Existing codes are updated in place.

Example:
  claimpilot codes import --file icd10.csv --type ICD-10
  claimpilot codes import --file cpt.csv --type CPT`,
	RunE: runCodesImport,
}

var codesEmbedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Backfill embeddings for catalog rows that lack one",
	Long: `Embed the descriptions of catalog rows that have no vector yet, in
batches, and store the vectors for semantic candidate retrieval. Rows
with blank descriptions are skipped.`,
	RunE: runCodesEmbed,
}

func init() {
	codesImportCmd.Flags().StringVar(&codesFile, "file", "", "CSV file to import (required)")
	codesImportCmd.Flags().StringVar(&codesType, "type", "", "code type: CPT or ICD-10 (required)")
	_ = codesImportCmd.MarkFlagRequired("file")
	_ = codesImportCmd.MarkFlagRequired("type")

	codesCmd.AddCommand(codesImportCmd)
	codesCmd.AddCommand(codesEmbedCmd)
	rootCmd.AddCommand(codesCmd)
}

func parseCodeType(s string) (model.CodeType, error) {
	switch strings.ToUpper(s) {
	case "CPT":
		return model.CodeTypeCPT, nil
	case "ICD-10", "ICD10":
		return model.CodeTypeICD10, nil
	default:
		return "", fmt.Errorf("unknown code type %q (supported: CPT, ICD-10)", s)
	}
}

// readCodesCSV parses a two-column CSV (code_value, description) with a
// header row. Rows with a blank code are skipped.
func readCodesCSV(r io.Reader, codeType model.CodeType) ([]model.MedicalCode, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV has no data rows")
	}

	var codes []model.MedicalCode
	for _, rec := range records[1:] {
		if len(rec) < 2 {
			continue
		}
		value := strings.TrimSpace(rec[0])
		if value == "" {
			continue
		}
		codes = append(codes, model.MedicalCode{
			Value:       value,
			Type:        codeType,
			Description: strings.TrimSpace(rec[1]),
		})
	}
	return codes, nil
}

func runCodesImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	codeType, err := parseCodeType(codesType)
	if err != nil {
		return err
	}

	f, err := os.Open(codesFile)
	if err != nil {
		return fmt.Errorf("opening CSV: %w", err)
	}
	defer f.Close()

	codes, err := readCodesCSV(f, codeType)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	if err := store.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	if err := store.NewPostgres(pool).UpsertCodes(ctx, codes); err != nil {
		return fmt.Errorf("importing codes: %w", err)
	}
	cmd.Printf("Imported %d %s codes from %s\n", len(codes), codeType, codesFile)
	return nil
}

func runCodesEmbed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx := context.Background()
	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	st := store.NewPostgres(pool)

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		ChatModel:      cfg.OpenAI.ChatModel,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		Timeout:        cfg.OpenAI.Timeout,
		RetryDelay:     cfg.OpenAI.RetryDelay,
	}, log)
	if err != nil {
		return fmt.Errorf("creating AI client: %w", err)
	}

	total := 0
	for {
		batch, err := st.ListUnembedded(ctx, embedBatchSize)
		if err != nil {
			return fmt.Errorf("listing unembedded codes: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		texts := make([]string, len(batch))
		for i, code := range batch {
			texts[i] = code.Description
		}
		vectors, err := client.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}

		embedded := 0
		for i, code := range batch {
			if i >= len(vectors) || len(vectors[i]) == 0 {
				continue
			}
			if err := st.SetEmbedding(ctx, code.ID, vectors[i]); err != nil {
				return fmt.Errorf("saving embedding for %s: %w", code.Value, err)
			}
			embedded++
		}
		if embedded == 0 {
			// The embedding service degraded to empty vectors; bail out
			// instead of spinning on the same batch.
			return fmt.Errorf("embedding service returned no vectors, aborting")
		}
		total += embedded
		log.Info().Int("batch", embedded).Int("total", total).Msg("embedded catalog batch")
	}

	cmd.Printf("Embedded %d codes\n", total)
	return nil
}
