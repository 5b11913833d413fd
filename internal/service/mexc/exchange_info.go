package mexc

import (
	"context"
	"strings"

	"github.com/adshao/go-binance/v2"

	"SnipeRadar/internal/domain/models"
)

// FetchExchangeInfo lists tradable symbols from the v3 exchangeInfo endpoint,
// which follows the Binance spot schema.
func (c *Client) FetchExchangeInfo(ctx context.Context) ([]models.ExchangeSymbol, error) {
	var info *binance.ExchangeInfo
	err := c.call(ctx, "exchange_info", func(ctx context.Context) error {
		var err error
		info, err = c.binance.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.ExchangeSymbol, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if !isOnline(s.Status) {
			continue
		}
		out = append(out, models.ExchangeSymbol{
			Symbol:     s.Symbol,
			Status:     s.Status,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		})
	}
	return out, nil
}

func isOnline(status string) bool {
	switch strings.ToUpper(status) {
	case "1", "ENABLED", "TRADING":
		return true
	}
	return false
}
