package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"

	"fraudscore/internal/features"
)

// WriteMatrix writes rows as CSV with features.Names as the header. The
// label column is appended when any row carries a label.
func WriteMatrix(w io.Writer, rows []features.BatchRow) error {
	labeled := false
	for _, r := range rows {
		if r.IsFraud != nil {
			labeled = true
			break
		}
	}

	writer := csv.NewWriter(w)
	header := append([]string(nil), features.Names[:]...)
	if labeled {
		header = append(header, ColLabel)
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(header))
	for _, r := range rows {
		for i, v := range r.Vector {
			record[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if labeled {
			record[features.NumFeatures] = ""
			if r.IsFraud != nil {
				record[features.NumFeatures] = strconv.FormatFloat(*r.IsFraud, 'g', -1, 64)
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row %s: %w", r.TransactionID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteMatrixFile writes the matrix to path, creating parent directories.
func WriteMatrixFile(path string, rows []features.BatchRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create matrix file: %w", err)
	}
	if err := WriteMatrix(file, rows); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close matrix file: %w", err)
	}
	log.Info().Str("file", path).Int("rows", len(rows)).Msg("Feature matrix written")
	return nil
}

// WriteReport writes the batch report as indented JSON.
func WriteReport(path string, report features.BatchReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	log.Info().Str("file", path).Msg("Batch report written")
	return nil
}
