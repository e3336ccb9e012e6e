package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quote-relay/src/models"
)

// Kind is the "type" discriminator of every wire message.
type Kind string

// Client to server.
const (
	KindAuth        Kind = "auth"
	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"
	KindPing        Kind = "ping"
	KindUnknown     Kind = ""
)

// Server to client.
const (
	KindAuthenticated Kind = "authenticated"
	KindMarketStatus  Kind = "market_status"
	KindPriceUpdate   Kind = "price_update"
	KindSubscribed    Kind = "subscribed"
	KindUnsubscribed  Kind = "unsubscribed"
	KindPong          Kind = "pong"
	KindError         Kind = "error"
)

// Error codes carried by error messages.
const (
	CodeAuthRequired  = "AUTH_REQUIRED"
	CodeAuthFailed    = "AUTH_FAILED"
	CodeTokenExpired  = "TOKEN_EXPIRED"
	CodeAuthBlocked   = "AUTH_BLOCKED"
	CodeAuthTimeout   = "AUTH_TIMEOUT"
	CodeInvalidSymbol = "INVALID_SYMBOL"
	CodeLimitExceeded = "LIMIT_EXCEEDED"
	CodeUnknownType   = "UNKNOWN_TYPE"
	CodeParseError    = "PARSE_ERROR"
)

// WebSocket close codes.
const (
	CloseAuthFailed = 4001
	CloseBlocked    = 4003
	CloseGoingAway  = 1001
)

// -----------------------------------------------------------------------------
// Inbound
// -----------------------------------------------------------------------------

// Inbound is a decoded client message. Token and Symbol are empty when absent
// or not JSON strings. RawType keeps the original type for UNKNOWN_TYPE replies.
type Inbound struct {
	Kind    Kind
	RawType string
	Token   string
	Symbol  string
}

type envelope struct {
	Type   json.RawMessage `json:"type"`
	Token  json.RawMessage `json:"token"`
	Symbol json.RawMessage `json:"symbol"`
}

// Decode parses one text frame. Anything that is not a JSON object is an error.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, err
	}
	in := Inbound{
		RawType: stringField(env.Type),
		Token:   stringField(env.Token),
		Symbol:  stringField(env.Symbol),
	}
	switch Kind(in.RawType) {
	case KindAuth, KindSubscribe, KindUnsubscribe, KindPing:
		in.Kind = Kind(in.RawType)
	default:
		in.Kind = KindUnknown
		if in.RawType == "" && len(env.Type) > 0 {
			in.RawType = string(env.Type)
		}
	}
	return in, nil
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

// Message is a server to client payload. The set is closed: Encode handles
// every implementation.
type Message interface {
	Kind() Kind
}

type UserInfo struct {
	Name string `json:"name"`
	Plan string `json:"plan"`
}

type Limits struct {
	MaxSubscriptions int   `json:"maxSubscriptions"`
	PollInterval     int64 `json:"pollInterval"` // milliseconds
}

type Authenticated struct {
	User   UserInfo `json:"user"`
	Limits Limits   `json:"limits"`
}

type MarketStatus struct {
	models.MMarketStatus
}

// PriceUpdate is the pushed form of a snapshot. Time is epoch milliseconds.
type PriceUpdate struct {
	Symbol       string             `json:"symbol"`
	Name         string             `json:"name"`
	Price        decimal.Decimal    `json:"price"`
	Change       decimal.Decimal    `json:"change"`
	ChangePct    decimal.Decimal    `json:"changePct"`
	ChangeSign   string             `json:"changeSign"`
	Volume       int64              `json:"volume"`
	High         decimal.Decimal    `json:"high"`
	Low          decimal.Decimal    `json:"low"`
	Open         decimal.Decimal    `json:"open"`
	Time         int64              `json:"time"`
	MarketStatus models.MarketState `json:"marketStatus"`
}

type Subscribed struct {
	Symbol        string   `json:"symbol"`
	Subscriptions []string `json:"subscriptions"`
}

type Unsubscribed struct {
	Symbol        string   `json:"symbol"`
	Subscriptions []string `json:"subscriptions"`
}

type Pong struct {
	Time int64 `json:"time"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Authenticated) Kind() Kind { return KindAuthenticated }
func (MarketStatus) Kind() Kind  { return KindMarketStatus }
func (PriceUpdate) Kind() Kind   { return KindPriceUpdate }
func (Subscribed) Kind() Kind    { return KindSubscribed }
func (Unsubscribed) Kind() Kind  { return KindUnsubscribed }
func (Pong) Kind() Kind          { return KindPong }
func (Error) Kind() Kind         { return KindError }

// -----------------------------------------------------------------------------

func NewPriceUpdate(s models.MPriceSnapshot) PriceUpdate {
	return PriceUpdate{
		Symbol:       s.Symbol,
		Name:         s.Name,
		Price:        s.Price,
		Change:       s.Change,
		ChangePct:    s.ChangePct,
		ChangeSign:   s.ChangeSign,
		Volume:       s.Volume,
		High:         s.High,
		Low:          s.Low,
		Open:         s.Open,
		Time:         s.CapturedAt.UnixMilli(),
		MarketStatus: s.MarketStatus,
	}
}

func NewPong(now time.Time) Pong {
	return Pong{Time: now.UnixMilli()}
}

func NewError(code, format string, args ...interface{}) Error {
	return Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// -----------------------------------------------------------------------------

// Encode renders m with its "type" field first-class alongside the payload.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Authenticated:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Authenticated
		}{KindAuthenticated, v})
	case MarketStatus:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			models.MMarketStatus
		}{KindMarketStatus, v.MMarketStatus})
	case PriceUpdate:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			PriceUpdate
		}{KindPriceUpdate, v})
	case Subscribed:
		v.Subscriptions = nonNil(v.Subscriptions)
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Subscribed
		}{KindSubscribed, v})
	case Unsubscribed:
		v.Subscriptions = nonNil(v.Subscriptions)
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Unsubscribed
		}{KindUnsubscribed, v})
	case Pong:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Pong
		}{KindPong, v})
	case Error:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Error
		}{KindError, v})
	default:
		return nil, fmt.Errorf("protocol: unsupported message %T", m)
	}
}

// MustEncode is Encode for the fixed message set, where marshalling cannot fail.
func MustEncode(m Message) []byte {
	data, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return data
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
