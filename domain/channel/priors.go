package channel

import (
	"fmt"

	"alphabias/domain/core"
	"alphabias/domain/shape"
)

// Priors holds the starting shape of every mixture component.
type Priors map[shape.Component]shape.Spec

// Clone returns a deep copy.
func (p Priors) Clone() Priors {
	out := make(Priors, len(p))
	for k, v := range p {
		out[k] = v.Clone()
	}
	return out
}

// Validate checks every component spec.
func (p Priors) Validate() error {
	for _, c := range shape.Components {
		spec, ok := p[c]
		if !ok {
			return fmt.Errorf("priors: no shape for component %s", c)
		}
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("priors for %s: %w", c, err)
		}
	}
	return nil
}

// Hash fingerprints the families, values, bounds and constant flags. Fit errors
// are not part of it.
func (p Priors) Hash() core.Hash {
	values := make(map[string]interface{})
	for c, spec := range p {
		values[string(c)+".family"] = string(spec.Family)
		for role, par := range spec.Params {
			values[string(c)+"."+role] = fmt.Sprintf("%g,%g,%g,%t", par.Value, par.Min, par.Max, par.Constant)
		}
	}
	return core.ComputeKeyedHash(values)
}

// DefaultPriors returns the starting values and bounds for the channel's families,
// including the per-channel overrides of the Vjet turn-on and the dilepton top shape.
func DefaultPriors(cfg Config) Priors {
	return Priors{
		shape.Vjet: subset(cfg.Families[shape.Vjet], vjetParams(cfg)),
		shape.VV:   subset(cfg.Families[shape.VV], vvParams()),
		shape.Top:  subset(cfg.Families[shape.Top], topParams(cfg)),
	}
}

// AltVjetPrior is the starting shape for the alternative Vjet function.
func AltVjetPrior(cfg Config) shape.Spec {
	return subset(cfg.AltVjet, vjetParams(cfg))
}

func subset(f shape.Family, all shape.ParamSet) shape.Spec {
	roles, err := f.Roles()
	if err != nil {
		return shape.Spec{Family: f, Params: shape.ParamSet{}}
	}
	ps := make(shape.ParamSet, len(roles))
	for _, r := range roles {
		if p, ok := all[r]; ok {
			ps[r] = p
		}
	}
	return shape.Spec{Family: f, Params: ps}
}

func vjetParams(cfg Config) shape.ParamSet {
	ps := shape.ParamSet{
		shape.RoleSlope:     shape.NewParam(-0.020, -1, 0),
		shape.RoleOffset:    shape.NewParam(30, -50, 400),
		shape.RoleWidth:     shape.NewParam(100, 1, 200),
		shape.RoleA0:        shape.NewParam(-0.1, -5, 0),
		shape.RoleA1:        shape.NewParam(0.6, 0, 5),
		shape.RoleA2:        shape.NewParam(-0.1, -1, 1),
		shape.RoleN:         shape.NewParam(0, -100, 100),
		shape.RoleTailScale: shape.NewParam(50, 1, 1000),
		shape.RoleTailShape: shape.NewParam(0.1, 0, 10),
		shape.RoleMean1:     shape.NewParam(90, 30, 300),
		shape.RoleSigma1:    shape.NewParam(20, 5, 100),
		shape.RoleFrac1:     shape.NewParam(0.1, 0, 1),
		shape.RoleMean2:     shape.NewParam(125, 30, 300),
		shape.RoleSigma2:    shape.NewParam(20, 5, 100),
		shape.RoleFrac2:     shape.NewParam(0.1, 0, 1),
	}
	switch cfg.Name {
	case "XZhnnb":
		ps[shape.RoleOffset] = shape.NewParam(500, 200, 1000)
	case "XZhnnbb":
		ps[shape.RoleOffset] = shape.NewParam(350, 200, 500)
	case "XWhenb":
		ps[shape.RoleOffset] = shape.NewParam(120, 80, 155)
	case "XWhenbb", "XZhmmb":
		ps[shape.RoleOffset] = shape.NewParam(67, 50, 100)
	case "XWhmnb":
		ps[shape.RoleOffset] = shape.NewParam(30, -50, 600)
	case "XZheeb":
		ps[shape.RoleOffset] = shape.NewParam(0, -400, 1000)
		ps[shape.RoleWidth] = shape.NewParam(1, 1, 200)
	}
	return ps
}

func vvParams() shape.ParamSet {
	return shape.ParamSet{
		shape.RoleSlope:  shape.NewParam(-0.030, -0.1, 0),
		shape.RoleOffset: shape.NewParam(90, 1, 300),
		shape.RoleWidth:  shape.NewParam(50, 1, 100),
		shape.RoleMean1:  shape.NewParam(90, 60, 100),
		shape.RoleSigma1: shape.NewParam(10, 6, 30),
		shape.RoleFrac1:  shape.NewParam(0.32, 0, 1),
		shape.RoleMean2:  shape.NewParam(125, 100, 150),
		shape.RoleSigma2: shape.NewParam(10, 5, 50),
		shape.RoleFrac2:  shape.NewParam(0.015, 0, 1),
	}
}

func topParams(cfg Config) shape.ParamSet {
	ps := shape.ParamSet{
		shape.RoleSlope:  shape.NewParam(-0.030, -1, 0),
		shape.RoleOffset: shape.NewParam(175, 50, 250),
		shape.RoleWidth:  shape.NewParam(100, 1, 300),
		shape.RoleMean1:  shape.NewParam(80, 70, 90),
		shape.RoleSigma1: shape.NewParam(10, 2, 20),
		shape.RoleFrac1:  shape.NewParam(0.1, 0, 1),
		shape.RoleMean2:  shape.NewParam(175, 150, 200),
		shape.RoleSigma2: shape.NewParam(12, 5, 30),
		shape.RoleFrac2:  shape.NewParam(0.1, 0, 1),
	}
	if cfg.NLeptons() == 2 {
		ps[shape.RoleOffset] = shape.NewParam(200, -50, 450)
		ps[shape.RoleWidth] = shape.NewParam(100, 1, 1000)
	}
	return ps
}
