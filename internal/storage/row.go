package storage

import "time"

// OptionType is the side of an option contract.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// InstrumentQuote is one fetched instrument observation, as delivered by
// the market-data source for a resolved expiry. It carries no collection
// timestamp; the writer stamps the whole batch at persist time.
type InstrumentQuote struct {
	Instrument        string
	Expiry            string // exchange expiry code, e.g. 26SEP25
	Strike            float64
	OptionType        OptionType
	OpenInterest      float64
	Delta             float64
	Gamma             float64
	Theta             float64
	Vega              float64
	ImpliedVolatility float64
}

// SnapshotRow is one observed instrument at one collection timestamp, as
// persisted in either partition.
type SnapshotRow struct {
	Timestamp time.Time // collection instant, millisecond precision, UTC
	Asset     string
	SpotPrice float64
	Expiry    string    // exchange expiry code
	ExpiryISO time.Time // calendar date derived from Expiry, UTC midnight

	Instrument string
	Strike     float64
	OptionType OptionType

	OpenInterest float64
	Delta        float64
	Gamma        float64
	Theta        float64
	Vega         float64

	ImpliedVolatility float64
}
