package mexc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/sony/gobreaker"

	"SnipeRadar/internal/domain/models"
	drepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/internal/service/ratelimit"
	xhttp "SnipeRadar/pkg/http"
	"SnipeRadar/pkg/logger"
)

const (
	calendarPath = "/api/operation/new_coin_calendar"
	symbolsPath  = "/api/platform/spot/market-v2/web/symbolsV2"
	activityPath = "/api/operateactivity/activity/list/by/currencies"
)

// Config holds REST client settings.
type Config struct {
	WebBaseURL      string        // calendar, symbols and activity endpoints
	APIBaseURL      string        // v3 spot API
	Timeout         time.Duration // per request
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client is the exchange REST client. Every endpoint has its own circuit
// breaker and rate-limit bucket.
type Client struct {
	cfg      Config
	http     *xhttp.Client
	binance  *binance.Client
	limiter  *ratelimit.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
	metrics  drepo.Metrics
	log      *logger.Logger
}

func NewClient(cfg Config, metrics drepo.Metrics, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	bc := binance.NewClient("", "")
	bc.BaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	bc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	c := &Client{
		cfg:      cfg,
		http:     xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout), xhttp.WithUserAgent("sniperadar/1.0")),
		binance:  bc,
		limiter:  ratelimit.New(float64(cfg.Burst), cfg.RatePerSecond),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		metrics:  metrics,
		log:      log,
	}
	for _, name := range []string{"calendar", "symbols", "exchange_info", "activity"} {
		c.breakers[name] = c.newBreaker(name)
	}
	return c
}

func (c *Client) newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: c.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// client errors say nothing about endpoint health
			var se *xhttp.StatusError
			return err == nil || (errors.As(err, &se) && !se.Temporary())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("exchange breaker state change",
				logger.String("endpoint", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
}

// call runs fn under the endpoint's limiter, breaker and timeout.
func (c *Client) call(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return fmt.Errorf("%s rate limit: %w", endpoint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	_, err := c.breakers[endpoint].Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	c.metrics.RecordLatency("exchange_"+endpoint, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordError("exchange_" + endpoint)
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	return nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e envelope) check() error {
	if e.Code != 0 && e.Code != 200 {
		return fmt.Errorf("exchange code %d: %s", e.Code, e.Msg)
	}
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return errors.New("exchange response has no data")
	}
	return nil
}

type calendarRow struct {
	VcoinID       string `json:"vcoinId"`
	VcoinName     string `json:"vcoinName"`
	VcoinNameFull string `json:"vcoinNameFull"`
	FirstOpenTime int64  `json:"firstOpenTime"`
	Zone          string `json:"zone"`
	Introduction  string `json:"introduction"`
}

// FetchCalendar returns announced listings.
func (c *Client) FetchCalendar(ctx context.Context) ([]models.CalendarEntry, error) {
	var env envelope
	err := c.call(ctx, "calendar", func(ctx context.Context) error {
		return c.http.GetJSON(ctx, c.cfg.WebBaseURL+calendarPath,
			map[string][]string{"timestamp": {fmt.Sprint(time.Now().UnixMilli())}}, &env)
	})
	if err != nil {
		return nil, err
	}
	if err := env.check(); err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}

	var data struct {
		NewCoins []json.RawMessage `json:"newCoins"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("calendar: decode data: %w", err)
	}

	out := make([]models.CalendarEntry, 0, len(data.NewCoins))
	for _, raw := range data.NewCoins {
		var row calendarRow
		if err := json.Unmarshal(raw, &row); err != nil {
			c.log.Warn("skip malformed calendar row", logger.Error(err))
			continue
		}
		out = append(out, models.CalendarEntry{
			VcoinID:       row.VcoinID,
			Symbol:        row.VcoinName,
			ProjectName:   row.VcoinNameFull,
			FirstOpenTime: row.FirstOpenTime,
			Zone:          row.Zone,
			Description:   row.Introduction,
		})
	}
	return out, nil
}

// FetchSymbols returns status snapshots for all symbols.
func (c *Client) FetchSymbols(ctx context.Context) ([]models.SymbolEntry, error) {
	var env envelope
	err := c.call(ctx, "symbols", func(ctx context.Context) error {
		return c.http.GetJSON(ctx, c.cfg.WebBaseURL+symbolsPath, nil, &env)
	})
	if err != nil {
		return nil, err
	}
	if err := env.check(); err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}

	var data struct {
		Symbols []json.RawMessage `json:"symbols"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("symbols: decode data: %w", err)
	}

	out := make([]models.SymbolEntry, 0, len(data.Symbols))
	for _, raw := range data.Symbols {
		var e models.SymbolEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			c.log.Warn("skip malformed symbol row", logger.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Activities implements repository.ActivityProvider against the exchange.
func (c *Client) Activities(ctx context.Context, currency string) ([]models.Activity, error) {
	var env envelope
	err := c.call(ctx, "activity", func(ctx context.Context) error {
		return c.http.GetJSON(ctx, c.cfg.WebBaseURL+activityPath,
			map[string][]string{"currencies": {currency}}, &env)
	})
	if err != nil {
		return nil, err
	}
	if env.Code != 0 && env.Code != 200 {
		return nil, fmt.Errorf("activity: exchange code %d: %s", env.Code, env.Msg)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}

	var acts []models.Activity
	if err := json.Unmarshal(env.Data, &acts); err != nil {
		return nil, fmt.Errorf("activity: decode data: %w", err)
	}
	return acts, nil
}

var (
	_ drepo.ExchangeClient   = (*Client)(nil)
	_ drepo.ActivityProvider = (*Client)(nil)
)
