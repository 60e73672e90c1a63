package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/clinical/extract"
	"github.com/medivault/backend/internal/clinical/lexicon"
	"github.com/medivault/backend/internal/evaluation"
	"github.com/medivault/backend/internal/summary"
	"github.com/medivault/backend/pkg/config"
	appLogger "github.com/medivault/backend/pkg/logger"
)

var (
	configFile  string
	datasetPath string
	jsonOutput  bool
	minAccuracy float64
)

var rootCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score clinical fact extraction against a labelled dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFrom(viper.New(), configFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, "stderr"); err != nil {
			return eris.Wrap(err, "init logger")
		}

		dataset, err := evaluation.LoadDatasetFile(datasetPath)
		if err != nil {
			return err
		}

		lex := lexicon.Default().Extend(lexicon.Extension{
			Allergens:   cfg.Summarizer.ExtraAllergens,
			Medications: cfg.Summarizer.ExtraMedications,
			Conditions:  cfg.Summarizer.ExtraConditions,
		})
		composer := summary.NewComposer(extract.New(lex), summary.Capabilities{RuleBased: cfg.Summarizer.RuleBased})

		report, err := evaluation.NewEvaluator(composer).RunDatasetEvaluation(cmd.Context(), dataset)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return eris.Wrap(err, "encode report")
			}
		} else {
			fmt.Fprint(out, evaluation.GenerateReport(report))
		}

		if report.OverallAccuracy < minAccuracy {
			return eris.Errorf("overall accuracy %.3f below threshold %.3f", report.OverallAccuracy, minAccuracy)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		appLogger.Sync()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&datasetPath, "dataset", "d", "", "path to the labelled JSON dataset")
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (defaults to config.yaml search paths)")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	rootCmd.Flags().Float64Var(&minAccuracy, "min-accuracy", 0, "exit non-zero when overall accuracy is below this value")
	_ = rootCmd.MarkFlagRequired("dataset")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		appLogger.Error("Evaluation failed", zap.Error(err))
		os.Exit(1)
	}
}
