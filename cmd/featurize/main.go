package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fraudscore/internal/common"
	"fraudscore/internal/dataset"
	"fraudscore/internal/features"
)

func main() {
	var (
		inPath      = flag.String("in", "", "Training CSV with raw transactions")
		outDir      = flag.String("out", common.DefaultModelDir, "Output directory")
		matrixName  = flag.String("matrix", "features.csv", "Feature matrix file name")
		encoderName = flag.String("encoders", common.DefaultEncoderTable, "Encoder table file name")
		reportName  = flag.String("report", "", "Optional batch report file name")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "usage: featurize -in train.csv [-out models]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	records, err := dataset.LoadCSVFile(*inPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load dataset")
	}
	if len(records) == 0 {
		log.Fatal().Str("file", *inPath).Msg("Dataset has no rows")
	}

	rows, table, report := features.DeriveBatch(records)

	if err := dataset.WriteMatrixFile(filepath.Join(*outDir, *matrixName), rows); err != nil {
		log.Fatal().Err(err).Msg("Failed to write feature matrix")
	}
	encoderPath := filepath.Join(*outDir, *encoderName)
	if err := table.Save(encoderPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to write encoder table")
	}
	log.Info().Str("file", encoderPath).Msg("Encoder table written")

	if *reportName != "" {
		if err := dataset.WriteReport(filepath.Join(*outDir, *reportName), report); err != nil {
			log.Fatal().Err(err).Msg("Failed to write batch report")
		}
	}

	log.Info().
		Int("input", report.Input).
		Int("dropped", report.Dropped).
		Int("rows", len(rows)).
		Int("cards", report.Cards).
		Interface("imputed", report.Imputed).
		Msg("Featurization complete")
}
