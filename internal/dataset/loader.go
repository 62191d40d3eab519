// Package dataset reads raw training transactions from CSV and writes the
// derived feature matrix back out.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"fraudscore/internal/features"
)

// Source column names.
const (
	ColTime          = "trans_date_trans_time"
	ColCard          = "cc_num"
	ColType          = "transaction_type"
	ColTypeMisspelt  = "trannsaction_type"
	ColAmount        = "amt"
	ColCity          = "city"
	ColLat           = "lat"
	ColLong          = "long"
	ColTransactionID = "trans_num"
	ColMerchLat      = "merch_lat"
	ColMerchLong     = "merch_long"
	ColIndex         = "Unnamed: 0"
	ColLabel         = "is_fraud"
)

var requiredColumns = []string{
	ColTime, ColCard, ColAmount, ColCity, ColLat, ColLong,
	ColTransactionID, ColMerchLat, ColMerchLong,
}

// LoadCSVFile opens path and reads it with ReadCSV.
func LoadCSVFile(path string) ([]features.LabeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	records, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Info().
		Str("file", path).
		Int("rows", len(records)).
		Msg("CSV data loaded successfully")
	return records, nil
}

// ReadCSV reads a training dataset. Columns may come in any order. The
// transaction type column is also accepted under its historical misspelling
// when the correctly spelled one is absent.
// Empty numeric cells are treated as missing.
func ReadCSV(r io.Reader) ([]features.LabeledTransaction, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	indices := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		if col == "" && i == 0 {
			// an unnamed leading column is the exported row index
			col = ColIndex
		}
		indices[col] = i
	}

	typeCol := ColType
	if _, ok := indices[typeCol]; !ok {
		typeCol = ColTypeMisspelt
	}
	if _, ok := indices[typeCol]; !ok {
		return nil, fmt.Errorf("%w: neither %q nor %q column found", features.ErrSchema, ColType, ColTypeMisspelt)
	}
	for _, col := range requiredColumns {
		if _, ok := indices[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", features.ErrSchema, col)
		}
	}

	var out []features.LabeledTransaction
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		row := rowReader{record: record, indices: indices}
		tx := features.LabeledTransaction{
			Transaction: features.Transaction{
				Time:          row.str(ColTime),
				CardNumber:    row.str(ColCard),
				Type:          row.str(typeCol),
				City:          row.str(ColCity),
				TransactionID: row.str(ColTransactionID),
			},
		}
		for _, f := range []struct {
			col string
			dst **float64
		}{
			{ColAmount, &tx.Amount},
			{ColLat, &tx.Lat},
			{ColLong, &tx.Long},
			{ColMerchLat, &tx.MerchLat},
			{ColMerchLong, &tx.MerchLong},
			{ColIndex, &tx.Index},
			{ColLabel, &tx.IsFraud},
		} {
			if *f.dst, err = row.float(f.col); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		out = append(out, tx)
	}
	return out, nil
}

type rowReader struct {
	record  []string
	indices map[string]int
}

func (r rowReader) str(col string) string {
	i, ok := r.indices[col]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

// float returns nil for an absent column or an empty cell.
func (r rowReader) float(col string) (*float64, error) {
	s := r.str(col)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: column %q: %q is not a number", features.ErrFeature, col, s)
	}
	return &v, nil
}
