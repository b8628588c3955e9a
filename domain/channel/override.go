package channel

import (
	"fmt"

	"alphabias/domain/shape"
)

// Override replaces families and individual prior parameters of one channel.
// It is the unit of the channel overrides file.
type Override struct {
	Families map[shape.Component]shape.Family         `yaml:"families"`
	AltVjet  shape.Family                             `yaml:"alt_vjet"`
	Params   map[shape.Component]map[string]ParamEdit `yaml:"params"`
}

// ParamEdit changes any subset of a parameter's value and bounds.
type ParamEdit struct {
	Value    *float64 `yaml:"value"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Constant *bool    `yaml:"constant"`
}

// Apply returns the channel config and priors with the override applied.
// Families are swapped before parameters so edits land on the new family's roles.
func (o Override) Apply(cfg Config) (Config, Priors, error) {
	for comp, fam := range o.Families {
		if _, err := fam.Roles(); err != nil {
			return Config{}, nil, fmt.Errorf("override %s/%s: %w", cfg.Name, comp, err)
		}
		cfg = cfg.WithFamily(comp, fam)
	}
	if o.AltVjet != "" {
		if _, err := o.AltVjet.Roles(); err != nil {
			return Config{}, nil, fmt.Errorf("override %s alt Vjet: %w", cfg.Name, err)
		}
		cfg.AltVjet = o.AltVjet
	}

	priors := DefaultPriors(cfg)
	for comp, edits := range o.Params {
		spec, ok := priors[comp]
		if !ok {
			return Config{}, nil, fmt.Errorf("override %s: unknown component %q", cfg.Name, comp)
		}
		for role, edit := range edits {
			p, ok := spec.Params[role]
			if !ok {
				return Config{}, nil, fmt.Errorf("override %s/%s: family %s has no parameter %q", cfg.Name, comp, spec.Family, role)
			}
			spec.Params[role] = edit.apply(p)
		}
		priors[comp] = spec
	}
	return cfg, priors, nil
}

func (e ParamEdit) apply(p shape.Param) shape.Param {
	if e.Value != nil {
		p.Value = *e.Value
	}
	if e.Min != nil {
		p.Min = *e.Min
	}
	if e.Max != nil {
		p.Max = *e.Max
	}
	if e.Constant != nil {
		p.Constant = *e.Constant
	}
	return p
}
