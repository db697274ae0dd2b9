package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// File is the ledger, platform and customization configuration file.
type File struct {
	Chains         []ChainConfig         `yaml:"chains"`
	Platforms      []PlatformConfig      `yaml:"platforms"`
	Customizations []CustomizationConfig `yaml:"customizations"`
}

// ChainConfig describes one ledger. State defaults to enabled and policy to
// full_set.
type ChainConfig struct {
	ID              string       `yaml:"id"`
	Label           string       `yaml:"label"`
	RPCURL          string       `yaml:"rpc_url"`
	State           string       `yaml:"state"`
	Policy          string       `yaml:"policy"`
	UseCustomScorer bool         `yaml:"use_custom_scorer"`
	ResolverAddress string       `yaml:"resolver_address"`
	EASAddress      string       `yaml:"eas_address"`
	PassportSchema  SchemaConfig `yaml:"passport_schema"`
	ScoreSchema     SchemaConfig `yaml:"score_schema"`
}

// SchemaConfig is an attestation schema uid with an optional field list
// overriding the built-in one.
type SchemaConfig struct {
	UID        string `yaml:"uid"`
	Definition string `yaml:"definition"`
}

// PlatformConfig describes one platform and its providers.
type PlatformConfig struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Providers   []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one provider of a platform.
type ProviderConfig struct {
	Name       string `yaml:"name"`
	Deprecated bool   `yaml:"deprecated"`
}

// CustomizationConfig describes a partner customization. Weights are decimal
// strings.
type CustomizationConfig struct {
	Key           string            `yaml:"key"`
	ScorerID      int64             `yaml:"scorer_id"`
	IncludeChains []string          `yaml:"include_chains"`
	Weights       map[string]string `yaml:"weights"`
}

// LoadFile reads and validates the configuration file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	f, err := ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return f, nil
}

// ParseFile decodes and validates a configuration document. Unknown fields
// are rejected.
func ParseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if len(f.Chains) == 0 {
		return errors.New("at least one chain is required")
	}

	chainIDs := make(map[string]bool, len(f.Chains))
	for i := range f.Chains {
		c := &f.Chains[i]
		if c.ID == "" {
			return fmt.Errorf("chains[%d]: id is required", i)
		}
		if chainIDs[c.ID] {
			return fmt.Errorf("chains[%d]: duplicate id %s", i, c.ID)
		}
		chainIDs[c.ID] = true

		if c.Label == "" {
			c.Label = c.ID
		}
		if c.State == "" {
			c.State = string(model.ChainStateEnabled)
		}
		if c.Policy == "" {
			c.Policy = string(model.PolicyFullSet)
		}

		switch model.ChainState(c.State) {
		case model.ChainStateEnabled, model.ChainStateDisabled, model.ChainStateComingSoon:
		default:
			return fmt.Errorf("chain %s: unknown state %q", c.ID, c.State)
		}
		if !model.ReconciliationPolicy(c.Policy).Valid() {
			return fmt.Errorf("chain %s: unknown policy %q", c.ID, c.Policy)
		}

		if model.ChainState(c.State) != model.ChainStateEnabled {
			continue
		}
		if c.RPCURL == "" {
			return fmt.Errorf("chain %s: rpc_url is required", c.ID)
		}
		if !common.IsHexAddress(c.ResolverAddress) {
			return fmt.Errorf("chain %s: invalid resolver_address %q", c.ID, c.ResolverAddress)
		}
		if !common.IsHexAddress(c.EASAddress) {
			return fmt.Errorf("chain %s: invalid eas_address %q", c.ID, c.EASAddress)
		}
		if c.PassportSchema.UID == "" || c.ScoreSchema.UID == "" {
			return fmt.Errorf("chain %s: passport_schema.uid and score_schema.uid are required", c.ID)
		}
	}

	platformIDs := make(map[string]bool, len(f.Platforms))
	for i, p := range f.Platforms {
		if p.ID == "" {
			return fmt.Errorf("platforms[%d]: id is required", i)
		}
		if platformIDs[p.ID] {
			return fmt.Errorf("platforms[%d]: duplicate id %s", i, p.ID)
		}
		platformIDs[p.ID] = true
		for j, prov := range p.Providers {
			if prov.Name == "" {
				return fmt.Errorf("platform %s: providers[%d]: name is required", p.ID, j)
			}
		}
	}

	keys := make(map[string]bool, len(f.Customizations))
	for i, c := range f.Customizations {
		if c.Key == "" {
			return fmt.Errorf("customizations[%d]: key is required", i)
		}
		if keys[c.Key] {
			return fmt.Errorf("customizations[%d]: duplicate key %s", i, c.Key)
		}
		keys[c.Key] = true

		if c.ScorerID < 0 {
			return fmt.Errorf("customization %s: scorer_id must not be negative", c.Key)
		}
		for _, id := range c.IncludeChains {
			if !chainIDs[id] {
				return fmt.Errorf("customization %s: unknown chain %s", c.Key, id)
			}
		}
		for provider, w := range c.Weights {
			if _, err := decimal.NewFromString(w); err != nil {
				return fmt.Errorf("customization %s: weight for %s: %w", c.Key, provider, err)
			}
		}
	}

	return nil
}

// ModelChains converts the configured ledgers to domain chains.
func (f *File) ModelChains() []model.Chain {
	out := make([]model.Chain, 0, len(f.Chains))
	for _, c := range f.Chains {
		out = append(out, model.Chain{
			ID:              c.ID,
			Label:           c.Label,
			RPCURL:          c.RPCURL,
			State:           model.ChainState(c.State),
			Policy:          model.ReconciliationPolicy(c.Policy),
			UseCustomScorer: c.UseCustomScorer,
			ResolverAddress: c.ResolverAddress,
			EASAddress:      c.EASAddress,
			PassportSchema:  model.SchemaRef{UID: c.PassportSchema.UID, Definition: c.PassportSchema.Definition},
			ScoreSchema:     model.SchemaRef{UID: c.ScoreSchema.UID, Definition: c.ScoreSchema.Definition},
		})
	}
	return out
}

// ModelPlatforms converts the configured platforms to domain platforms.
func (f *File) ModelPlatforms() []model.Platform {
	out := make([]model.Platform, 0, len(f.Platforms))
	for _, p := range f.Platforms {
		providers := make([]model.PlatformProvider, 0, len(p.Providers))
		for _, prov := range p.Providers {
			providers = append(providers, model.PlatformProvider{Name: prov.Name, Deprecated: prov.Deprecated})
		}
		out = append(out, model.Platform{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Providers:   providers,
		})
	}
	return out
}

// ModelCustomizations converts the configured customizations, keyed by key.
// Weights were validated by ParseFile.
func (f *File) ModelCustomizations() map[string]model.Customization {
	out := make(map[string]model.Customization, len(f.Customizations))
	for _, c := range f.Customizations {
		var weights model.ProviderWeights
		if len(c.Weights) > 0 {
			weights = make(model.ProviderWeights, len(c.Weights))
			for provider, w := range c.Weights {
				weights[provider] = decimal.RequireFromString(w)
			}
		}
		out[c.Key] = model.Customization{
			Key:              c.Key,
			ScorerID:         c.ScorerID,
			IncludedChainIDs: c.IncludeChains,
			Weights:          weights,
		}
	}
	return out
}
