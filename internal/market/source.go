package market

import "context"

type CandleEvent struct {
	Instrument string
	Interval   string
	Candle     Candle
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// Source is the market data contract shared by live feeds and historical
// replay. Live sources are infinite and non-restartable; replay sources
// are finite and can be rewound.
type Source interface {
	FetchHistory(ctx context.Context, instrument, interval string, limit int) ([]Candle, error)

	Subscribe(ctx context.Context, instruments []string, interval string, opts SubscribeOptions) (<-chan CandleEvent, error)

	Stats() SourceStats

	Close() error
}
