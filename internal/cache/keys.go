package cache

import (
	"fmt"
	"strings"
	"time"
)

// Default lifetimes per namespace. Index weights move far less often than prices.
const (
	TTLAnalytics   = 60 * time.Second
	TTLSignal      = 60 * time.Second
	TTLIndexWeight = 15 * time.Minute
	TTLIndexLive   = 5 * time.Minute
	TTLAlertState  = time.Duration(0)
)

const (
	nsAnalytics      = "options:analytics"
	nsSignal         = "ai:signal"
	nsClassification = "ai:signal:classification"
	nsAlertState     = "ai:alert:state"
	nsIndexWeights   = "index:weights"
	nsIndexLive      = "index:live"

	nearestExpiry = "nearest"
)

// AnalyticsKey addresses option analytics for symbol and expiry; an empty expiry
// means the nearest listed one.
func AnalyticsKey(symbol, expiry string) string {
	if expiry == "" {
		expiry = nearestExpiry
	}
	return fmt.Sprintf("%s:%s:%s", nsAnalytics, symbol, expiry)
}

// SignalKey addresses the latest composite signal for symbol.
func SignalKey(symbol string) string {
	return fmt.Sprintf("%s:%s", nsSignal, symbol)
}

// ClassificationKey holds the last classification seen by the alert engine.
func ClassificationKey(symbol string) string {
	return fmt.Sprintf("%s:%s", nsClassification, symbol)
}

// AlertStateKey holds the edge flag of one alert kind for symbol.
func AlertStateKey(symbol, kind string) string {
	return fmt.Sprintf("%s:%s:%s", nsAlertState, symbol, kind)
}

// IndexWeightsKey addresses cached constituent weights for an index.
func IndexWeightsKey(index string) string {
	return fmt.Sprintf("%s:%s", nsIndexWeights, indexSegment(index))
}

// IndexLiveKey addresses cached live constituent prices for an index.
func IndexLiveKey(index string) string {
	return fmt.Sprintf("%s:%s", nsIndexLive, indexSegment(index))
}

func indexSegment(index string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(index)), " ", "")
}
