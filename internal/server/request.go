package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"fraudscore/internal/features"
)

// Location is a lat/lon pair. Either coordinate may be absent.
type Location struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// Request is the body of POST /predict and of each /ws/score frame.
type Request struct {
	TransactionTime  string     `json:"transactionTime"`
	CCNum            CardNumber `json:"ccNum"`
	TransactionType  string     `json:"transactionType"`
	Amount           *float64   `json:"amount"`
	City             string     `json:"city"`
	UserLocation     *Location  `json:"userLocation"`
	TransactionID    string     `json:"transactionId"`
	MerchantLocation *Location  `json:"merchantLocation"`
}

// Transaction maps the wire request onto the scoring record.
func (r Request) Transaction() features.Transaction {
	tx := features.Transaction{
		Time:          r.TransactionTime,
		CardNumber:    string(r.CCNum),
		Type:          r.TransactionType,
		Amount:        r.Amount,
		City:          r.City,
		TransactionID: r.TransactionID,
	}
	if r.UserLocation != nil {
		tx.Lat, tx.Long = r.UserLocation.Lat, r.UserLocation.Lon
	}
	if r.MerchantLocation != nil {
		tx.MerchLat, tx.MerchLong = r.MerchantLocation.Lat, r.MerchantLocation.Lon
	}
	return tx
}

// CardNumber accepts the card number as a JSON string or number.
type CardNumber string

func (c *CardNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CardNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("ccNum must be a string or number: %w", err)
	}
	*c = CardNumber(n.String())
	return nil
}

// Response is the body of a successful prediction.
type Response struct {
	IsFraud     bool     `json:"is_fraud"`
	Confidence  float64  `json:"confidence"`
	FraudReason []string `json:"fraud_reason"`
	RequestID   string   `json:"request_id,omitempty"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func decodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}
