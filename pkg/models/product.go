package models

import "sort"

// Product is one merchant offer as returned by a connector.
type Product struct {
	ConnectorID string  `json:"connector_id"`
	ExternalID  string  `json:"external_id"`
	Title       string  `json:"title"`
	UnitPrice   float64 `json:"unit_price"`
	Currency    string  `json:"currency"`
	// DeliveryETA is the promised delivery time in minutes.
	DeliveryETA int `json:"delivery_eta"`
	// Rating is the product rating on a 0–5 scale, 0 when unknown.
	Rating float64 `json:"rating,omitempty"`
	// Stock is the reported unit count; nil when the connector gives no signal.
	Stock *int           `json:"stock,omitempty"`
	URL   string         `json:"url,omitempty"`
	Raw   map[string]any `json:"raw,omitempty"`
}

// InStock reports the stock signal: ok is false when the connector gave none.
func (p *Product) InStock() (in, ok bool) {
	if p.Stock == nil {
		return false, false
	}
	return *p.Stock > 0, true
}

// ConnectorResult is one connector's contribution to a fan-out: either
// products or an error kind string, never both.
type ConnectorResult struct {
	Products []Product `json:"products,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// OK reports whether the connector returned products rather than an error.
func (r ConnectorResult) OK() bool { return r.Error == "" }

// SearchHits is the search stage output: the merged fan-out result keyed by
// connector id. Downstream stages only ever see a fully merged map.
type SearchHits struct {
	Results map[string]ConnectorResult `json:"results"`
}

// Candidates flattens all successful results into one candidate list.
// Connectors are visited in id order and products keep the order the
// connector returned them, so the list (and therefore ranking's insertion
// tie-break) is deterministic.
func (h *SearchHits) Candidates() []Product {
	ids := make([]string, 0, len(h.Results))
	for id := range h.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Product
	for _, id := range ids {
		r := h.Results[id]
		if r.OK() {
			out = append(out, r.Products...)
		}
	}
	return out
}

// Failures returns the connector ids that errored, in id order.
func (h *SearchHits) Failures() []string {
	var out []string
	for id, r := range h.Results {
		if !r.OK() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// AllFailed reports whether every fanned-out connector errored.
func (h *SearchHits) AllFailed() bool {
	if len(h.Results) == 0 {
		return true
	}
	for _, r := range h.Results {
		if r.OK() {
			return false
		}
	}
	return true
}
