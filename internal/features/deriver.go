package features

import (
	"errors"
	"math"
	"time"
)

// CardProfile summarises the transactions previously seen for one card.
// Amount statistics are kept with Welford's online algorithm.
type CardProfile struct {
	Count    int64     `json:"count"`
	Mean     float64   `json:"mean"`
	M2       float64   `json:"m2"`
	LastTime time.Time `json:"last_time"`
	LastLat  *float64  `json:"last_lat,omitempty"`
	LastLong *float64  `json:"last_long,omitempty"`
}

// With returns the profile updated with one more transaction.
func (p CardProfile) With(amount float64, at time.Time, lat, long *float64) CardProfile {
	p.Count++
	delta := amount - p.Mean
	p.Mean += delta / float64(p.Count)
	p.M2 += delta * (amount - p.Mean)
	p.LastTime = at
	p.LastLat = lat
	p.LastLong = long
	return p
}

// Std returns the sample standard deviation of amounts, 0 below two samples.
func (p CardProfile) Std() float64 {
	if p.Count < 2 {
		return 0
	}
	return math.Sqrt(p.M2 / float64(p.Count-1))
}

// Deriver builds inference-time feature vectors with a fixed encoder table.
// It holds no mutable state and is safe for concurrent use.
type Deriver struct {
	encoders *EncoderTable
}

// NewDeriver returns a Deriver that encodes categories with enc.
func NewDeriver(enc *EncoderTable) *Deriver {
	return &Deriver{encoders: enc}
}

// Derive builds the vector for a single transaction with no card history:
// time since previous and distance to previous are 0, the card average is
// the transaction's own amount, std is 0, count is 1 and deviation is 0.
func (d *Deriver) Derive(tx Transaction) (Vector, error) {
	return d.DeriveWithHistory(tx, nil)
}

// DeriveWithHistory builds the vector for a transaction, using prior as the
// card's earlier activity when it is non-nil.
func (d *Deriver) DeriveWithHistory(tx Transaction, prior *CardProfile) (Vector, error) {
	if d == nil || d.encoders == nil {
		return Vector{}, errors.New("deriver has no encoder table")
	}

	at, err := ParseTime(tx.Time)
	if err != nil {
		return Vector{}, err
	}

	amount, err := required("amt", tx.Amount)
	if err != nil {
		return Vector{}, err
	}
	coords := map[string]*float64{"lat": tx.Lat, "long": tx.Long, "merch_lat": tx.MerchLat, "merch_long": tx.MerchLong}
	vals := make(map[string]float64, len(coords))
	for _, name := range []string{"lat", "long", "merch_lat", "merch_long"} {
		v, err := required(name, coords[name])
		if err != nil {
			return Vector{}, err
		}
		vals[name] = v
	}

	index := 0.0
	if tx.Index != nil {
		if index, err = required("Unnamed: 0", tx.Index); err != nil {
			return Vector{}, err
		}
	}

	typeCode, _ := d.encoders.TransactionType.Code(tx.Type)
	cityCode, _ := d.encoders.City.Code(tx.City)

	cols := map[string]float64{
		"Unnamed: 0":       index,
		"amt":              amount,
		"lat":              vals["lat"],
		"long":             vals["long"],
		"merch_lat":        vals["merch_lat"],
		"merch_long":       vals["merch_long"],
		"hour":             float64(at.Hour()),
		"day_of_week":      dayOfWeek(at),
		"day":              float64(at.Day()),
		"month":            float64(at.Month()),
		"time_diff_sec":    0,
		"dist_trans_merch": Haversine(tx.Lat, tx.Long, tx.MerchLat, tx.MerchLong),
		"dist_prev_trans":  0,
		"avg_amt":          amount,
		"std_amt":          0,
		"trans_count":      1,
		"amt_diff_avg":     0,
		"trans_type_enc":   float64(typeCode),
		"city_enc":         float64(cityCode),
	}

	if prior != nil && prior.Count > 0 {
		current := prior.With(amount, at, tx.Lat, tx.Long)
		cols["time_diff_sec"] = at.Sub(prior.LastTime).Seconds()
		cols["dist_prev_trans"] = Haversine(tx.Lat, tx.Long, prior.LastLat, prior.LastLong)
		cols["avg_amt"] = current.Mean
		cols["std_amt"] = current.Std()
		cols["trans_count"] = float64(current.Count)
		cols["amt_diff_avg"] = math.Abs(amount - current.Mean)
	}

	return FromColumns(cols)
}
