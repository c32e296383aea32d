// Package priority maps a notification's origin to a priority tier using
// tenant-configured rule sets.
package priority

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/bissquit/notifyq/internal/kvstore"
)

// rulesKey is the tenant-scoped storage key holding the rule set.
const rulesKey = "config:priority_rules"

// Rule matches an origin and assigns a priority tier. OriginID matches
// exactly; OriginClass matches exactly, or as a prefix when it ends with '*'.
// A rule with neither selector matches nothing.
type Rule struct {
	OriginID    string `json:"origin_id,omitempty"`
	OriginClass string `json:"origin_class,omitempty"`
	Tier        int    `json:"tier"`
}

func (r Rule) matches(originID, originClass string) bool {
	if r.OriginID != "" {
		return r.OriginID == originID
	}
	if r.OriginClass != "" {
		if prefix, ok := strings.CutSuffix(r.OriginClass, "*"); ok {
			return strings.HasPrefix(originClass, prefix)
		}
		return r.OriginClass == originClass
	}
	return false
}

// RuleSet is a tenant's ordered rule list plus the tier used when no rule
// matches.
type RuleSet struct {
	Rules       []Rule `json:"rules"`
	DefaultTier int    `json:"default_tier"`
}

// Resolver resolves priority tiers from tenant rule sets. Rule sets are
// loaded once per tenant and cached for the process lifetime; rules change
// rarely and a restart suffices.
type Resolver struct {
	store   kvstore.Store
	maxTier int

	mu    sync.RWMutex
	cache map[string]*RuleSet
}

// NewResolver creates a resolver. maxTier is the lowest urgency tier, used
// as the fail-open fallback.
func NewResolver(store kvstore.Store, maxTier int) *Resolver {
	return &Resolver{
		store:   store,
		maxTier: maxTier,
		cache:   make(map[string]*RuleSet),
	}
}

// Resolve returns the priority tier for an origin: the tier of the first
// matching rule in declared order, or the rule set's default tier. A missing
// or corrupt rule set fails open to the lowest urgency tier; resolution
// never blocks an enqueue.
func (r *Resolver) Resolve(ctx context.Context, tenantID, originID, originClass string) int {
	rules := r.ruleSet(ctx, tenantID)

	for _, rule := range rules.Rules {
		if rule.matches(originID, originClass) {
			return r.clamp(rule.Tier)
		}
	}
	return r.clamp(rules.DefaultTier)
}

func (r *Resolver) ruleSet(ctx context.Context, tenantID string) *RuleSet {
	r.mu.RLock()
	cached, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	rules := r.load(ctx, tenantID)

	r.mu.Lock()
	// Another goroutine may have raced the load; keep the first result so a
	// tenant observes one rule set per process lifetime.
	if existing, ok := r.cache[tenantID]; ok {
		rules = existing
	} else {
		r.cache[tenantID] = rules
	}
	r.mu.Unlock()

	return rules
}

func (r *Resolver) load(ctx context.Context, tenantID string) *RuleSet {
	fallback := &RuleSet{DefaultTier: r.maxTier}

	blob, err := r.store.Get(ctx, tenantID, rulesKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			slog.Warn("failed to load priority rules, using lowest tier",
				"tenant_id", tenantID,
				"error", err,
			)
		}
		return fallback
	}

	var rules RuleSet
	if err := json.Unmarshal([]byte(blob), &rules); err != nil {
		slog.Warn("corrupt priority rules, using lowest tier",
			"tenant_id", tenantID,
			"error", err,
		)
		return fallback
	}

	if rules.DefaultTier == 0 {
		rules.DefaultTier = r.maxTier
	}
	return &rules
}

func (r *Resolver) clamp(tier int) int {
	if tier < 1 {
		return 1
	}
	if tier > r.maxTier {
		return r.maxTier
	}
	return tier
}
