package router

import (
	"strings"

	trerr "github.com/shrivenq/tradecore/pkg/errors"
	"github.com/shrivenq/tradecore/pkg/num"
)

// selectVenue implements spec §4.G "apply the configured strategy":
// `primary` always resolves to the configured primary venue; `smart`
// applies a rule based on notional size and symbol suffix class.
// `split`, `liquidity`, and `cost_optimal` are explicitly out of scope
// (spec.md Open Questions) and return a stable, named error rather
// than silently falling back to a strategy the caller didn't ask for.
func (r *Router) selectVenue(req SubmitRequest) (string, error) {
	switch r.cfg.Strategy {
	case StrategyPrimary:
		return r.cfg.PrimaryVenue, nil
	case StrategySmart:
		return r.selectSmartVenue(req)
	default:
		return "", trerr.Newf(trerr.ErrValidation,
			"venue strategy %q requires venue telemetry not implemented by this router (see spec Open Questions: liquidity/cost_optimal strategies)",
			r.cfg.Strategy)
	}
}

// selectSmartVenue implements the `smart` strategy: notional above the
// configured threshold routes to SmartLargeVenue; the symbol's suffix
// (if resolvable via SymbolLookup) can further steer the choice;
// otherwise SmartSmallVenue.
func (r *Router) selectSmartVenue(req SubmitRequest) (string, error) {
	var notional num.Amount
	if req.LimitPrice != nil {
		notional = req.Qty.Mul(*req.LimitPrice)
	}
	if int64(notional) >= r.cfg.SmartNotionalBP {
		return r.cfg.SmartLargeVenue, nil
	}

	if r.symbols != nil {
		if name, ok := r.symbols.Lookup(req.Symbol); ok {
			if strings.HasSuffix(name, ".PERP") || strings.HasSuffix(name, ".SWAP") {
				return r.cfg.SmartLargeVenue, nil
			}
		}
	}
	return r.cfg.SmartSmallVenue, nil
}
