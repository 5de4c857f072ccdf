package recipe

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Kattete/Tidal-Miner/internal/domain/item"
)

//go:embed recipes.yaml
var defaultRecipes []byte

type recipeDoc struct {
	Name         string       `yaml:"name"`
	CraftSeconds float64      `yaml:"craft_seconds"`
	Produces     productDoc   `yaml:"produces"`
	Requires     []item.Stack `yaml:"requires"`
}

type productDoc struct {
	Item     item.ID `yaml:"item"`
	Quantity int     `yaml:"quantity"`
	Artifact string  `yaml:"artifact"`
}

// LoadYAML decodes a list of recipe definitions. A missing product quantity
// means one.
func LoadYAML(r io.Reader) ([]Recipe, error) {
	var docs []recipeDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&docs); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode recipes: %w", err)
	}

	recipes := make([]Recipe, 0, len(docs))
	for i, d := range docs {
		if d.CraftSeconds < 0 || math.IsNaN(d.CraftSeconds) {
			return nil, fmt.Errorf("%w: recipe #%d (%s) has craft_seconds %v", ErrInvalidRecipe, i, d.Name, d.CraftSeconds)
		}
		qty := d.Produces.Quantity
		if qty == 0 {
			qty = 1
		}
		recipes = append(recipes, Recipe{
			Name:         d.Name,
			Requirements: d.Requires,
			Product: Product{
				Item:     d.Produces.Item,
				Quantity: qty,
				Artifact: d.Produces.Artifact,
			},
			CraftTime: time.Duration(d.CraftSeconds * float64(time.Second)),
		})
	}
	return recipes, nil
}

// LoadFile reads recipe definitions from a YAML file.
func LoadFile(path string) ([]Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipe file: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}

// Default returns the built-in recipe set.
func Default() ([]Recipe, error) {
	return LoadYAML(bytes.NewReader(defaultRecipes))
}

// NewLedgerFromFile loads path, or the built-in set when path is empty.
func NewLedgerFromFile(path string) (*Ledger, error) {
	var (
		recipes []Recipe
		err     error
	)
	if path == "" {
		recipes, err = Default()
	} else {
		recipes, err = LoadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return NewLedger(recipes...)
}
