package features

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// LabeledTransaction is a training record. IsFraud is nil for unlabeled rows.
type LabeledTransaction struct {
	Transaction
	IsFraud *float64
}

// BatchRow is one derived training row.
type BatchRow struct {
	TransactionID string
	CardNumber    string
	Vector        Vector
	IsFraud       *float64
}

// BatchReport describes what DeriveBatch did to its input.
type BatchReport struct {
	Input     int            `json:"input"`
	Dropped   int            `json:"dropped"`
	Cards     int            `json:"cards"`
	MedianGap float64        `json:"median_gap_sec"`
	Imputed   map[string]int `json:"imputed"`
}

type batchItem struct {
	rec LabeledTransaction
	at  time.Time
}

type cardStats struct {
	mean, std, count float64
}

// DeriveBatch derives training rows from a full dataset. Rows with an
// unparsable time are dropped. Output is ordered by card, then time.
// The returned encoder table is the one the rows were encoded with and must
// be shipped with the trained models.
func DeriveBatch(records []LabeledTransaction) ([]BatchRow, *EncoderTable, BatchReport) {
	report := BatchReport{Input: len(records), Imputed: make(map[string]int)}

	items := make([]batchItem, 0, len(records))
	for _, r := range records {
		at, err := ParseBatchTime(r.Time)
		if err != nil {
			report.Dropped++
			continue
		}
		items = append(items, batchItem{rec: r, at: at})
	}
	if report.Dropped > 0 {
		log.Warn().Int("dropped", report.Dropped).Msg("dropped rows with unparsable transaction time")
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].rec.CardNumber != items[j].rec.CardNumber {
			return items[i].rec.CardNumber < items[j].rec.CardNumber
		}
		return items[i].at.Before(items[j].at)
	})

	n := len(items)
	gaps := make([]float64, n)
	distPrev := make([]float64, n)
	var observedGaps []float64
	for i := range items {
		gaps[i] = math.NaN()
		if i > 0 && items[i-1].rec.CardNumber == items[i].rec.CardNumber {
			prev := items[i-1].rec
			gaps[i] = items[i].at.Sub(items[i-1].at).Seconds()
			observedGaps = append(observedGaps, gaps[i])
			distPrev[i] = Haversine(items[i].rec.Lat, items[i].rec.Long, prev.Lat, prev.Long)
		}
	}
	report.MedianGap = median(observedGaps)
	if math.IsNaN(report.MedianGap) {
		// every card has a single transaction
		report.MedianGap = 0
	}
	for i := range gaps {
		if math.IsNaN(gaps[i]) {
			gaps[i] = report.MedianGap
		}
	}

	stats := cardAggregates(items)
	report.Cards = len(stats)

	types := make([]string, n)
	cities := make([]string, n)
	for i, it := range items {
		types[i] = it.rec.Type
		cities[i] = it.rec.City
	}
	table := &EncoderTable{TransactionType: FitEncoder(types), City: FitEncoder(cities)}

	matrix := make([]Vector, n)
	for i, it := range items {
		r := it.rec
		s := stats[r.CardNumber]
		amount := orNaN(r.Amount)
		typeCode, _ := table.TransactionType.Code(r.Type)
		cityCode, _ := table.City.Code(r.City)

		var v Vector
		v[IdxIndex] = 0
		if r.Index != nil {
			v[IdxIndex] = *r.Index
		}
		v[IdxAmount] = amount
		v[IdxLat] = orNaN(r.Lat)
		v[IdxLong] = orNaN(r.Long)
		v[IdxMerchLat] = orNaN(r.MerchLat)
		v[IdxMerchLong] = orNaN(r.MerchLong)
		v[IdxHour] = float64(it.at.Hour())
		v[IdxDayOfWeek] = dayOfWeek(it.at)
		v[IdxDay] = float64(it.at.Day())
		v[IdxMonth] = float64(it.at.Month())
		v[IdxTimeDiff] = gaps[i]
		v[IdxDistMerchant] = Haversine(r.Lat, r.Long, r.MerchLat, r.MerchLong)
		v[IdxDistPrev] = distPrev[i]
		v[IdxAvgAmount] = s.mean
		v[IdxStdAmount] = s.std
		v[IdxTxCount] = s.count
		v[IdxAmountDiff] = math.Abs(amount - s.mean)
		v[IdxTypeCode] = float64(typeCode)
		v[IdxCityCode] = float64(cityCode)
		matrix[i] = v
	}

	fillMedians(matrix, report.Imputed)

	rows := make([]BatchRow, n)
	for i, it := range items {
		rows[i] = BatchRow{
			TransactionID: it.rec.TransactionID,
			CardNumber:    it.rec.CardNumber,
			Vector:        matrix[i],
			IsFraud:       it.rec.IsFraud,
		}
	}

	log.Info().
		Int("rows", n).
		Int("cards", report.Cards).
		Float64("median_gap_sec", report.MedianGap).
		Int("transaction_types", len(table.TransactionType.classes)).
		Int("cities", len(table.City.classes)).
		Msg("batch features derived")

	return rows, table, report
}

// cardAggregates computes mean, sample std and count of amount per card,
// skipping missing amounts. Std is NaN for cards with fewer than two amounts.
func cardAggregates(items []batchItem) map[string]cardStats {
	profiles := make(map[string]CardProfile)
	for _, it := range items {
		p := profiles[it.rec.CardNumber]
		if it.rec.Amount != nil && !math.IsNaN(*it.rec.Amount) {
			p = p.With(*it.rec.Amount, it.at, nil, nil)
		}
		profiles[it.rec.CardNumber] = p
	}

	out := make(map[string]cardStats, len(profiles))
	for card, p := range profiles {
		s := cardStats{mean: math.NaN(), std: math.NaN(), count: float64(p.Count)}
		if p.Count > 0 {
			s.mean = p.Mean
		}
		if p.Count > 1 {
			s.std = p.Std()
		}
		out[card] = s
	}
	return out
}

// fillMedians replaces NaN cells with their column median, or 0 when the
// column has no values at all.
func fillMedians(matrix []Vector, imputed map[string]int) {
	for col := 0; col < NumFeatures; col++ {
		present := make([]float64, 0, len(matrix))
		missing := 0
		for _, row := range matrix {
			if math.IsNaN(row[col]) {
				missing++
				continue
			}
			present = append(present, row[col])
		}
		if missing == 0 {
			continue
		}
		fill := median(present)
		if math.IsNaN(fill) {
			fill = 0
		}
		for i := range matrix {
			if math.IsNaN(matrix[i][col]) {
				matrix[i][col] = fill
			}
		}
		imputed[Names[col]] = missing
	}
}

// median returns the median of values, NaN when empty.
func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
