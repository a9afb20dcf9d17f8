package connector

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Warning category constants.
const (
	WarningConnectorHealth = "connector_health" // connector became unhealthy at runtime
	WarningJournal         = "journal"          // checkpoint journal or audit log degraded
	WarningSlackDelivery   = "slack_delivery"   // ops notification could not be posted
)

// Warning represents a non-fatal system issue surfaced on the health check.
type Warning struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Source    string    `json:"source,omitempty"` // connector id for health warnings
	CreatedAt time.Time `json:"created_at"`
}

// SystemWarnings manages in-memory warnings. Thread-safe. Not persisted —
// warnings are transient and reset on restart.
type SystemWarnings struct {
	mu       sync.RWMutex
	warnings map[string]*Warning // warning id → warning
}

// NewSystemWarnings creates an empty warning registry.
func NewSystemWarnings() *SystemWarnings {
	return &SystemWarnings{warnings: make(map[string]*Warning)}
}

// AddWarning records a warning and returns its id. An existing warning with
// the same category+source is replaced, so a flapping connector produces one
// warning, not a pile. Nil-safe.
func (s *SystemWarnings) AddWarning(category, message, details, source string) string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.warnings {
		if w.Category == category && w.Source == source {
			delete(s.warnings, id)
			break
		}
	}

	id := uuid.New().String()
	s.warnings[id] = &Warning{
		ID:        id,
		Category:  category,
		Message:   message,
		Details:   details,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	return id
}

// ClearBySource removes the warning matching category + source, if any.
// Used by the health monitor when a connector recovers. Nil-safe.
func (s *SystemWarnings) ClearBySource(category, source string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.warnings {
		if w.Category == category && w.Source == source {
			delete(s.warnings, id)
			return
		}
	}
}

// Warnings returns all active warnings as value copies, oldest first.
func (s *SystemWarnings) Warnings() []Warning {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Warning, 0, len(s.warnings))
	for _, w := range s.warnings {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of active warnings. Nil-safe.
func (s *SystemWarnings) Count() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.warnings)
}
