package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/piilens/piilens/internal/analyzer"
	"github.com/piilens/piilens/internal/config"
	errwrap "github.com/piilens/piilens/internal/errors"
	"github.com/piilens/piilens/internal/observability"
	"github.com/piilens/piilens/internal/output"
)

var (
	analyzeLanguage string
	analyzeFormat   string
	analyzeStdin    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [text]",
	Short: "Analyze text for PII entities",
	Long: `Analyze text for PII entities using the configured analyzer backend.

The text can be passed as an argument or piped via stdin with --stdin.
Results below the configured minimum score are filtered out.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(analyzeFormat)
		if err != nil {
			return errwrap.NewInvalidInputError(err.Error())
		}

		text, err := analyzeInputText(args)
		if err != nil {
			return err
		}

		cfg, err := config.Load(cmd.Context(), cfgFile)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration load failed")
		}

		language := analyzeLanguage
		if language == "" {
			language = cfg.Analyzer.DefaultLanguage
		}

		backend := analyzer.NewClient(analyzer.ClientConfig{
			BaseURL:           cfg.Analyzer.BaseURL,
			Timeout:           cfg.Analyzer.Timeout,
			MinScore:          cfg.Analyzer.MinScore,
			RequestsPerMinute: cfg.Analyzer.RequestsPerMinute,
			PaceRPS:           cfg.Analyzer.PaceRPS,
		})

		observability.CLILogger.Debug("Analyzing text",
			zap.String("language", language),
			zap.Int("text_length", len(text)))

		entities, err := backend.Analyze(cmd.Context(), text, language)
		if err != nil {
			return errwrap.WrapExternalService(cmd.Context(), err, "analysis request failed")
		}

		formatter := output.NewFormatter(format)
		rendered, err := formatter.FormatAnalysis(&output.AnalysisReport{
			Text:     text,
			Language: language,
			Entities: entities,
		})
		if err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "failed to render analysis")
		}

		fmt.Println(rendered)
		return nil
	},
}

// analyzeInputText resolves the text to analyze from args or stdin.
func analyzeInputText(args []string) (string, error) {
	if analyzeStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", errwrap.NewInvalidInputError("failed to read text from stdin")
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", errwrap.NewValidationError("stdin contained no text to analyze")
		}
		return text, nil
	}

	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", errwrap.NewValidationError("provide text as an argument or use --stdin")
	}
	return args[0], nil
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeLanguage, "language", "l", "", "language of the text (defaults to configured language)")
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "table", "output format (table, json)")
	analyzeCmd.Flags().BoolVar(&analyzeStdin, "stdin", false, "read text from stdin")
}
