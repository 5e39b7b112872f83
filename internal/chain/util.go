package chain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// WSEndpoint turns an http(s) node URL into its websocket counterpart.
func WSEndpoint(rpc string) string {
	rpc = strings.TrimRight(strings.TrimSpace(rpc), "/")
	switch {
	case strings.HasPrefix(rpc, "ws://"), strings.HasPrefix(rpc, "wss://"):
		return rpc
	case strings.HasPrefix(rpc, "https://"):
		return "wss://" + strings.TrimPrefix(rpc, "https://")
	case strings.HasPrefix(rpc, "http://"):
		return "ws://" + strings.TrimPrefix(rpc, "http://")
	}
	return ""
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}

// TRX and XRP both count in millionths of the unit.
const microExp = -6

func fromMicro(v int64) decimal.Decimal {
	return decimal.New(v, microExp)
}

func toMicro(v decimal.Decimal) int64 {
	return v.Shift(-microExp).Truncate(0).IntPart()
}
