package deribit

import "encoding/json"

// envelope is the JSON-RPC response wrapper every public endpoint uses.
type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *apiError       `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type indexPriceResult struct {
	IndexPrice float64 `json:"index_price"`
}

// bookSummary is one row of get_book_summary_by_currency.
type bookSummary struct {
	InstrumentName string  `json:"instrument_name"`
	OpenInterest   float64 `json:"open_interest"`
}

// apiInstrument is one row of get_instruments.
type apiInstrument struct {
	InstrumentName string  `json:"instrument_name"`
	Strike         float64 `json:"strike"`
	OptionType     string  `json:"option_type"`
	IsActive       bool    `json:"is_active"`
}

// tickerResult is the subset of /public/ticker the collector consumes.
type tickerResult struct {
	OpenInterest float64 `json:"open_interest"`
	MarkIV       float64 `json:"mark_iv"`
	Greeks       greeks  `json:"greeks"`
}

type greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}
