package stages

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kiranamart/mandi/pkg/models"
)

// Policy names, in evaluation order. They double as policy_flags entries
// when a policy disqualified at least one candidate.
const (
	PolicyInStock         = "in_stock"
	PolicyPriceSanity     = "price_sanity"
	PolicyDeliveryUrgency = "delivery_meets_urgency"
	PolicyBudget          = "budget"
	PolicyConnectorHealth = "connector_health"
	PolicyDiversity       = "diversity"

	// FlagAutoBuy marks a decision the engine may execute without user
	// confirmation.
	FlagAutoBuy = "auto_buy"
	// FlagEtaFallback records that no candidate met the urgent eta threshold
	// and the policy accepted the lowest-eta candidate instead.
	FlagEtaFallback = "eta_fallback"
)

// priceSanityLow/High bound acceptable unit prices relative to the candidate
// median.
const (
	priceSanityLow  = 0.5
	priceSanityHigh = 1.5
)

// DecisionInput carries everything the policy gate needs. Healthy may be nil
// (all connectors treated healthy); Budget 0 means no budget constraint.
type DecisionInput struct {
	Ranking *models.Ranking
	Intent  *models.Intent
	// Budget is the maximum acceptable total (unit price × quantity), 0 = none.
	Budget float64
	// UrgentEtaMinutes is the delivery ceiling applied under high urgency.
	UrgentEtaMinutes int
	// AutoBuyConfidence is the minimum intent confidence for auto-buy.
	AutoBuyConfidence float64
	Healthy           func(connectorID string) bool
}

// Decide runs the ordered policy gate over the ranked candidates. The first
// candidate passing every policy is selected; the next two passing become
// fallbacks, preferring other connectors. No passing candidate → Selected
// nil with the reason recorded; the engine then skips confirmation and
// purchase.
func Decide(in DecisionInput) *models.Decision {
	if in.Ranking == nil || len(in.Ranking.Products) == 0 {
		return &models.Decision{
			Reasoning:            "no candidates to decide over",
			RequiresConfirmation: true,
		}
	}

	gate := newPolicyGate(in)

	var passing []models.RankedProduct
	for _, rp := range in.Ranking.Products {
		if gate.admit(rp.Product) {
			passing = append(passing, rp)
		}
	}

	decision := &models.Decision{RequiresConfirmation: true}

	if len(passing) == 0 {
		decision.Reasoning = fmt.Sprintf(
			"no candidate passed the policy gate (%s)", gate.violationSummary())
		decision.PolicyFlags = gate.flags(false)
		return decision
	}

	selected := passing[0]
	decision.Selected = &selected.Product
	decision.Fallbacks = pickFallbacks(selected.Product, passing[1:])
	decision.PolicyFlags = gate.flags(true)

	autoBuy := in.Intent != nil &&
		in.Intent.Urgency == models.UrgencyHigh &&
		in.Intent.Confidence >= in.AutoBuyConfidence &&
		!gate.usedEtaFallback
	if autoBuy {
		decision.RequiresConfirmation = false
		decision.PolicyFlags = append(decision.PolicyFlags, FlagAutoBuy)
	}

	decision.Reasoning = selectionReasoning(selected, decision.Fallbacks, gate)
	return decision
}

// pickFallbacks returns up to two passing candidates after the selected one.
// When candidates from other connectors exist, only those qualify; same-
// connector fallbacks are used only if no alternative connector passed.
func pickFallbacks(selected models.Product, rest []models.RankedProduct) []models.Product {
	var diverse, same []models.Product
	for _, rp := range rest {
		if rp.Product.ConnectorID != selected.ConnectorID {
			diverse = append(diverse, rp.Product)
		} else {
			same = append(same, rp.Product)
		}
	}
	pool := diverse
	if len(pool) == 0 {
		pool = same
	}
	if len(pool) > 2 {
		pool = pool[:2]
	}
	return pool
}

// policyGate evaluates the ordered policies with context precomputed over
// the whole candidate set (median price, urgent eta relaxation).
type policyGate struct {
	in          DecisionInput
	medianPrice float64

	// urgentEtaApplies gates the delivery policy; lowestEta is the relaxation
	// target when nothing meets the threshold.
	urgentEtaApplies bool
	anyMeetsEta      bool
	lowestEta        int
	usedEtaFallback  bool

	violations map[string]int
}

func newPolicyGate(in DecisionInput) *policyGate {
	g := &policyGate{
		in:         in,
		violations: make(map[string]int),
	}

	prices := make([]float64, 0, len(in.Ranking.Products))
	for _, rp := range in.Ranking.Products {
		prices = append(prices, rp.Product.UnitPrice)
	}
	g.medianPrice = median(prices)

	if in.Intent != nil && in.Intent.Urgency == models.UrgencyHigh && in.UrgentEtaMinutes > 0 {
		g.urgentEtaApplies = true
		g.lowestEta = in.Ranking.Products[0].Product.DeliveryETA
		for _, rp := range in.Ranking.Products {
			eta := rp.Product.DeliveryETA
			if eta <= in.UrgentEtaMinutes {
				g.anyMeetsEta = true
			}
			if eta < g.lowestEta {
				g.lowestEta = eta
			}
		}
	}

	return g
}

// admit runs policies 1–5 against one candidate. Diversity (policy 6) is a
// fallback-set constraint, applied in pickFallbacks.
func (g *policyGate) admit(p models.Product) bool {
	if in, known := p.InStock(); known && !in {
		g.violations[PolicyInStock]++
		return false
	}

	if g.medianPrice > 0 {
		ratio := p.UnitPrice / g.medianPrice
		if ratio < priceSanityLow || ratio > priceSanityHigh {
			g.violations[PolicyPriceSanity]++
			return false
		}
	}

	if g.urgentEtaApplies {
		if g.anyMeetsEta {
			if p.DeliveryETA > g.in.UrgentEtaMinutes {
				g.violations[PolicyDeliveryUrgency]++
				return false
			}
		} else if p.DeliveryETA != g.lowestEta {
			// Nothing meets the threshold: accept only the fastest option.
			g.violations[PolicyDeliveryUrgency]++
			return false
		} else {
			g.usedEtaFallback = true
		}
	}

	if g.in.Budget > 0 {
		qty := 1.0
		if g.in.Intent != nil && g.in.Intent.Quantity > 0 {
			qty = g.in.Intent.Quantity
		}
		if p.UnitPrice*qty > g.in.Budget {
			g.violations[PolicyBudget]++
			return false
		}
	}

	if g.in.Healthy != nil && !g.in.Healthy(p.ConnectorID) {
		g.violations[PolicyConnectorHealth]++
		return false
	}

	return true
}

// flags lists the policies that disqualified at least one candidate, in
// evaluation order, plus the eta relaxation marker when it fired.
func (g *policyGate) flags(selectedExists bool) []string {
	var out []string
	for _, name := range []string{
		PolicyInStock, PolicyPriceSanity, PolicyDeliveryUrgency,
		PolicyBudget, PolicyConnectorHealth,
	} {
		if g.violations[name] > 0 {
			out = append(out, name)
		}
	}
	if selectedExists && g.usedEtaFallback {
		out = append(out, FlagEtaFallback)
	}
	return out
}

func (g *policyGate) violationSummary() string {
	if len(g.violations) == 0 {
		return "empty candidate set"
	}
	names := make([]string, 0, len(g.violations))
	for name := range g.violations {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s dropped %d", name, g.violations[name]))
	}
	return strings.Join(parts, ", ")
}

func selectionReasoning(selected models.RankedProduct, fallbacks []models.Product, gate *policyGate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "selected %q on %s at ₹%.2f, eta %d min (score %.3f)",
		selected.Product.Title, selected.Product.ConnectorID,
		selected.Product.UnitPrice, selected.Product.DeliveryETA, selected.Score)
	if len(fallbacks) > 0 {
		ids := make([]string, 0, len(fallbacks))
		for _, f := range fallbacks {
			ids = append(ids, f.ConnectorID)
		}
		fmt.Fprintf(&b, "; fallbacks: %s", strings.Join(ids, ", "))
	}
	if summary := gate.violationSummary(); len(gate.violations) > 0 {
		fmt.Fprintf(&b, "; %s", summary)
	}
	return b.String()
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
