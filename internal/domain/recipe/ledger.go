package recipe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/Kattete/Tidal-Miner/internal/domain/item"
)

// Ledger maps recipe names to recipes. It is filled once at construction and
// read-only afterwards, so it can be shared between sessions without locking.
type Ledger struct {
	recipes map[string]Recipe
	names   []string
}

// NewLedger validates recipes and indexes them by name.
func NewLedger(recipes ...Recipe) (*Ledger, error) {
	l := &Ledger{
		recipes: make(map[string]Recipe, len(recipes)),
		names:   make([]string, 0, len(recipes)),
	}
	for _, r := range recipes {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := l.recipes[r.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRecipe, r.Name)
		}
		reqs := make([]item.Stack, len(r.Requirements))
		copy(reqs, r.Requirements)
		r.Requirements = reqs
		l.recipes[r.Name] = r
		l.names = append(l.names, r.Name)
	}
	sort.Strings(l.names)
	return l, nil
}

// GetRecipe returns the recipe called name.
func (l *Ledger) GetRecipe(name string) (Recipe, bool) {
	r, ok := l.recipes[name]
	if !ok {
		return Recipe{}, false
	}
	reqs := make([]item.Stack, len(r.Requirements))
	copy(reqs, r.Requirements)
	r.Requirements = reqs
	return r, true
}

// Names returns every recipe name in sorted order.
func (l *Ledger) Names() []string {
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// Len returns the number of recipes.
func (l *Ledger) Len() int {
	return len(l.recipes)
}

// CanCraft reports whether stock can afford the recipe. It never mutates stock.
func (l *Ledger) CanCraft(name string, stock Stock) (bool, error) {
	r, err := l.lookup(name)
	if err != nil {
		return false, err
	}
	return r.Affordable(stock), nil
}

// Missing lists the materials stock lacks for the recipe.
func (l *Ledger) Missing(name string, stock Stock) ([]item.Stack, error) {
	r, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	return r.Shortfall(stock), nil
}

// Craft consumes the recipe's requirements from stock and returns the
// product for the caller to spawn. Either every requirement is deducted or
// none is.
func (l *Ledger) Craft(name string, stock Stock) (Product, error) {
	r, err := l.lookup(name)
	if err != nil {
		return Product{}, err
	}
	if !r.Affordable(stock) {
		return Product{}, fmt.Errorf("%w: %s needs %s", ErrInsufficientResources, name, formatStacks(r.Shortfall(stock)))
	}
	// Another caller may have drained stock since the check; TakeAll
	// re-checks under the stock's own lock and leaves it untouched on failure.
	if err := stock.TakeAll(r.Requirements); err != nil {
		return Product{}, fmt.Errorf("%w: %s: %v", ErrInsufficientResources, name, err)
	}
	return r.Product, nil
}

// Suggest returns the recipe name closest to name, if one is close enough
// to be a likely typo.
func (l *Ledger) Suggest(name string) (string, bool) {
	compare := strings.ToLower(strings.TrimSpace(name))
	if compare == "" {
		return "", false
	}
	best := ""
	bestDist := -1
	for _, candidate := range l.names {
		dist := levenshtein.ComputeDistance(compare, strings.ToLower(candidate))
		if dist > suggestLimit(len(candidate)) {
			continue
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = candidate, dist
		}
	}
	return best, bestDist >= 0
}

// UnknownItems lists item IDs referenced by recipes that known rejects.
func (l *Ledger) UnknownItems(known func(item.ID) bool) []item.ID {
	seen := make(map[item.ID]bool)
	var unknown []item.ID
	check := func(id item.ID) {
		if seen[id] {
			return
		}
		seen[id] = true
		if !known(id) {
			unknown = append(unknown, id)
		}
	}
	for _, name := range l.names {
		r := l.recipes[name]
		for _, req := range r.Requirements {
			check(req.ID)
		}
		check(r.Product.Item)
	}
	return unknown
}

func (l *Ledger) lookup(name string) (Recipe, error) {
	r, ok := l.recipes[name]
	if ok {
		return r, nil
	}
	if s, ok := l.Suggest(name); ok {
		return Recipe{}, fmt.Errorf("%w: %q (did you mean %q?)", ErrRecipeNotFound, name, s)
	}
	return Recipe{}, fmt.Errorf("%w: %q", ErrRecipeNotFound, name)
}

func suggestLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}

func formatStacks(stacks []item.Stack) string {
	parts := make([]string, 0, len(stacks))
	for _, s := range stacks {
		parts = append(parts, fmt.Sprintf("%d more %s", s.Quantity, s.ID))
	}
	return strings.Join(parts, ", ")
}
