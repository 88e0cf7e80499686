package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Fantasim/tappos/internal/models"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// chainsFile is the on-disk layout of the chain registry.
type chainsFile struct {
	Chains []models.Chain `yaml:"chains" validate:"required,min=1,dive"`
}

// LoadChains reads and validates the chain registry YAML file.
// The returned slice preserves file order, which is the evaluation order used
// for tie-breaking during token selection.
func LoadChains(path string) ([]models.Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chains file %q: %w", path, err)
	}

	chains, err := ParseChains(data)
	if err != nil {
		return nil, fmt.Errorf("chains file %q: %w", path, err)
	}

	slog.Info("chains loaded",
		"file", path,
		"count", len(chains),
	)
	return chains, nil
}

// ParseChains decodes and validates a chain registry document.
func ParseChains(data []byte) ([]models.Chain, error) {
	var f chainsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidConfig, err)
	}

	v := validator.New()
	if err := v.Struct(f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	seen := make(map[uint32]string, len(f.Chains))
	for _, c := range f.Chains {
		if prev, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("%w: chain id %d used by both %q and %q", ErrInvalidConfig, c.ID, prev, c.Name)
		}
		seen[c.ID] = c.Name

		for _, t := range c.Tokens {
			if t.Contract == "" && t.AssetID == nil {
				return nil, fmt.Errorf("%w: token %s on %s needs asset_id or contract", ErrInvalidConfig, t.Symbol, c.Name)
			}
			if c.Kind == ChainKindEVM && t.AssetID != nil {
				return nil, fmt.Errorf("%w: token %s on evm chain %s cannot use asset_id", ErrInvalidConfig, t.Symbol, c.Name)
			}
			if c.Kind == ChainKindSubstrate && t.Contract != "" {
				return nil, fmt.Errorf("%w: token %s on substrate chain %s cannot use contract", ErrInvalidConfig, t.Symbol, c.Name)
			}
		}
	}

	return f.Chains, nil
}
