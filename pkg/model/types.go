package model

import "time"

// Candle represents a single candlestick (OHLCV data)
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// IsBullish reports whether the candle closed above its open
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// RawBar is an unparsed OHLCV row as delivered by upstream tables.
// Numeric fields may carry thousands separators ("162,154").
type RawBar struct {
	Time   time.Time `json:"time"`
	Open   string    `json:"open"`
	High   string    `json:"high"`
	Low    string    `json:"low"`
	Close  string    `json:"close"`
	Volume string    `json:"volume"`
}

// Stock represents basic stock information
type Stock struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"` // KRX, NYSE, NASDAQ, TSE
}

// IntradayData represents one session of intraday candles
type IntradayData struct {
	Symbol   string    `json:"symbol"`
	Date     time.Time `json:"date"`
	Interval int       `json:"interval"` // minutes per bar
	Candles  []Candle  `json:"candles"`
}

// Latest returns the last candle, or false when the session is empty
func (d *IntradayData) Latest() (Candle, bool) {
	if d == nil || len(d.Candles) == 0 {
		return Candle{}, false
	}
	return d.Candles[len(d.Candles)-1], true
}
