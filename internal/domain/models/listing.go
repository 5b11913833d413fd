package models

import "time"

// CalendarEntry is an announced future listing.
type CalendarEntry struct {
	VcoinID       string `json:"vcoinId" validate:"required"`
	Symbol        string `json:"symbol" validate:"required" warn:"symbolfmt"`
	ProjectName   string `json:"projectName" warn:"required"`
	FirstOpenTime int64  `json:"firstOpenTime" validate:"required,gt=0"` // epoch ms
	Zone          string `json:"zone,omitempty"`
	Description   string `json:"description,omitempty"`
}

// OpenTime returns FirstOpenTime as a time.Time.
func (c CalendarEntry) OpenTime() time.Time {
	return time.UnixMilli(c.FirstOpenTime)
}

// AdvanceHours is the lead time between now and the first open time.
func (c CalendarEntry) AdvanceHours(now time.Time) float64 {
	return c.OpenTime().Sub(now).Hours()
}

// SymbolEntry is a point-in-time status snapshot for a coin.
//
// Status codes are pointers so that an absent code is distinguishable from
// a zero code.
type SymbolEntry struct {
	Cd      string   `json:"cd" validate:"required" warn:"symbolfmt"`
	VcoinID string   `json:"vcoinId,omitempty"`
	Sts     *int     `json:"sts" validate:"required" warn:"omitempty,min=0,max=5"`
	St      *int     `json:"st" validate:"required" warn:"omitempty,min=0,max=5"`
	Tt      *int     `json:"tt" validate:"required" warn:"omitempty,min=0,max=10"`
	Ca      *float64 `json:"ca,omitempty"`
	Ps      *float64 `json:"ps,omitempty"`
	Qs      *float64 `json:"qs,omitempty"`
	Ot      int64    `json:"ot,omitempty"` // open time, epoch ms, 0 when unknown
}

// Ready-state status triple.
const (
	ReadySts = 2
	ReadySt  = 2
	ReadyTt  = 4
)

// IsReadyState reports whether the snapshot carries exactly sts=2, st=2, tt=4.
func (s SymbolEntry) IsReadyState() bool {
	return s.Sts != nil && s.St != nil && s.Tt != nil &&
		*s.Sts == ReadySts && *s.St == ReadySt && *s.Tt == ReadyTt
}

// HasPrecision reports whether amount, price and quantity precision are all present.
func (s SymbolEntry) HasPrecision() bool {
	return s.Ca != nil && s.Ps != nil && s.Qs != nil
}

// ExchangeSymbol is one row of the exchange-wide symbol listing.
type ExchangeSymbol struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// Listing is a normalized discovery produced by any detection layer.
type Listing struct {
	VcoinID       string         `json:"vcoinId,omitempty"`
	Symbol        string         `json:"symbol"`
	ProjectName   string         `json:"projectName,omitempty"`
	FirstOpenTime int64          `json:"firstOpenTime,omitempty"`
	Calendar      *CalendarEntry `json:"calendar,omitempty"`
	Snapshot      *SymbolEntry   `json:"snapshot,omitempty"`
}

// Key identifies a listing in the known-listings registry.
func (l Listing) Key() string {
	return l.VcoinID + "|" + l.Symbol
}

// Activity is a promotional or market activity attached to a currency.
type Activity struct {
	ActivityID   string `json:"activityId"`
	Currency     string `json:"currency"`
	CurrencyID   string `json:"currencyId,omitempty"`
	ActivityType string `json:"activityType"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
