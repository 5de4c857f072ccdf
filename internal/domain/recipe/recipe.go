// Package recipe defines what can be built and enforces atomic resource
// accounting for crafting.
// This package is PURE and must NOT import any infrastructure packages.
package recipe

import (
	"errors"
	"fmt"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/domain/item"
)

var (
	ErrRecipeNotFound        = errors.New("recipe: not found")
	ErrInsufficientResources = errors.New("recipe: insufficient resources")
	ErrDuplicateRecipe       = errors.New("recipe: duplicate name")
	ErrInvalidRecipe         = errors.New("recipe: invalid definition")
)

// Product describes what a successful craft yields. Artifact names the
// prefab the client instantiates; it may be empty for plain inventory items.
type Product struct {
	Item     item.ID `json:"item"`
	Quantity int     `json:"quantity"`
	Artifact string  `json:"artifact,omitempty"`
}

// Recipe is a named transformation from required item quantities to one product.
// CraftTime only drives presentation timing; resources are consumed at once.
type Recipe struct {
	Name         string        `json:"name"`
	Requirements []item.Stack  `json:"requirements"`
	Product      Product       `json:"product"`
	CraftTime    time.Duration `json:"craft_time"`
}

// Validate checks the recipe is well formed. Recipes that consume their own
// product are allowed; loops are a content authoring concern.
func (r Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRecipe)
	}
	if len(r.Requirements) == 0 {
		return fmt.Errorf("%w: %s has no requirements", ErrInvalidRecipe, r.Name)
	}
	seen := make(map[item.ID]bool, len(r.Requirements))
	for _, req := range r.Requirements {
		if req.ID.Empty() {
			return fmt.Errorf("%w: %s requires an empty item", ErrInvalidRecipe, r.Name)
		}
		if req.Quantity < 1 {
			return fmt.Errorf("%w: %s requires %d of %q", ErrInvalidRecipe, r.Name, req.Quantity, req.ID)
		}
		if seen[req.ID] {
			return fmt.Errorf("%w: %s lists %q twice", ErrInvalidRecipe, r.Name, req.ID)
		}
		seen[req.ID] = true
	}
	if r.Product.Item.Empty() {
		return fmt.Errorf("%w: %s produces nothing", ErrInvalidRecipe, r.Name)
	}
	if r.Product.Quantity < 1 {
		return fmt.Errorf("%w: %s produces %d items", ErrInvalidRecipe, r.Name, r.Product.Quantity)
	}
	if r.CraftTime < 0 {
		return fmt.Errorf("%w: %s has negative craft time", ErrInvalidRecipe, r.Name)
	}
	return nil
}

// Stock is the view of an inventory the ledger needs. TakeAll must remove
// every stack or none.
type Stock interface {
	GetQuantity(id item.ID) int
	TakeAll(stacks []item.Stack) error
}

// Affordable reports whether stock holds enough of every requirement.
func (r Recipe) Affordable(stock Stock) bool {
	for _, req := range r.Requirements {
		if stock.GetQuantity(req.ID) < req.Quantity {
			return false
		}
	}
	return true
}

// Shortfall lists how much of each requirement stock is missing.
func (r Recipe) Shortfall(stock Stock) []item.Stack {
	var missing []item.Stack
	for _, req := range r.Requirements {
		if held := stock.GetQuantity(req.ID); held < req.Quantity {
			missing = append(missing, item.Stack{ID: req.ID, Quantity: req.Quantity - held})
		}
	}
	return missing
}
