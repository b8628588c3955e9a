// Package shape holds the declarative description of component densities: which
// family a component uses and the keyed parameter values it is built from.
package shape

import (
	"fmt"
	"sort"
	"strings"

	"alphabias/domain/core"
)

// Family is a parametric density family.
type Family string

const (
	EXP         Family = "EXP"
	EXPTAIL     Family = "EXPTAIL"
	EXPN        Family = "EXPN"
	ERFEXP      Family = "ERFEXP"
	POL         Family = "POL"
	POW         Family = "POW"
	GAUS        Family = "GAUS"
	GAUS2       Family = "GAUS2"
	GAUS3       Family = "GAUS3"
	EXPGAUS     Family = "EXPGAUS"
	EXPGAUS2    Family = "EXPGAUS2"
	ERFEXPGAUS  Family = "ERFEXPGAUS"
	ERFEXPGAUS2 Family = "ERFEXPGAUS2"
)

// Parameter roles. A family reads its parameters by role, never by position.
const (
	RoleSlope     = "slope"
	RoleOffset    = "offset"
	RoleWidth     = "width"
	RoleMean1     = "mean1"
	RoleSigma1    = "sigma1"
	RoleFrac1     = "frac1"
	RoleMean2     = "mean2"
	RoleSigma2    = "sigma2"
	RoleFrac2     = "frac2"
	RoleA0        = "a0"
	RoleA1        = "a1"
	RoleA2        = "a2"
	RoleN         = "n"
	RoleTailScale = "tailScale"
	RoleTailShape = "tailShape"
)

var familyRoles = map[Family][]string{
	EXP:         {RoleSlope},
	EXPTAIL:     {RoleTailScale, RoleTailShape},
	EXPN:        {RoleSlope, RoleN},
	ERFEXP:      {RoleSlope, RoleOffset, RoleWidth},
	POL:         {RoleA0, RoleA1, RoleA2},
	POW:         {RoleA0},
	GAUS:        {RoleOffset, RoleWidth},
	GAUS2:       {RoleMean2, RoleSigma2, RoleFrac2, RoleOffset, RoleWidth},
	GAUS3:       {RoleMean1, RoleSigma1, RoleFrac1, RoleMean2, RoleSigma2, RoleFrac2, RoleOffset, RoleWidth},
	EXPGAUS:     {RoleMean1, RoleSigma1, RoleFrac1, RoleSlope},
	EXPGAUS2:    {RoleMean1, RoleSigma1, RoleFrac1, RoleMean2, RoleSigma2, RoleFrac2, RoleSlope},
	ERFEXPGAUS:  {RoleMean1, RoleSigma1, RoleFrac1, RoleSlope, RoleOffset, RoleWidth},
	ERFEXPGAUS2: {RoleMean1, RoleSigma1, RoleFrac1, RoleMean2, RoleSigma2, RoleFrac2, RoleSlope, RoleOffset, RoleWidth},
}

// Families lists every supported family in a stable order.
func Families() []Family {
	out := make([]Family, 0, len(familyRoles))
	for f := range familyRoles {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseFamily accepts a family name in any case.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := familyRoles[f]; !ok {
		return "", &core.UnsupportedShapeError{Family: s}
	}
	return f, nil
}

// Roles returns the parameter roles the family requires.
func (f Family) Roles() ([]string, error) {
	roles, ok := familyRoles[f]
	if !ok {
		return nil, &core.UnsupportedShapeError{Family: string(f)}
	}
	out := make([]string, len(roles))
	copy(out, roles)
	return out, nil
}

// Param is a single fit parameter. It is a value type: copying it never aliases.
type Param struct {
	Value    float64 `json:"value" yaml:"value"`
	Min      float64 `json:"min" yaml:"min"`
	Max      float64 `json:"max" yaml:"max"`
	Error    float64 `json:"error,omitempty" yaml:"-"`
	Constant bool    `json:"constant,omitempty" yaml:"constant,omitempty"`
}

// NewParam returns a floating parameter with bounds.
func NewParam(value, min, max float64) Param {
	return Param{Value: value, Min: min, Max: max}
}

// Fixed returns a constant parameter.
func Fixed(value float64) Param {
	return Param{Value: value, Min: value, Max: value, Constant: true}
}

// Clamp returns the value pulled inside the bounds.
func (p Param) Clamp(v float64) float64 {
	if p.Min < p.Max {
		if v < p.Min {
			return p.Min
		}
		if v > p.Max {
			return p.Max
		}
	}
	return v
}

// AsConstant returns a copy that does not float.
func (p Param) AsConstant() Param {
	p.Constant = true
	return p
}

// ParamSet maps role to parameter.
type ParamSet map[string]Param

// Clone returns an independent copy.
func (ps ParamSet) Clone() ParamSet {
	out := make(ParamSet, len(ps))
	for k, v := range ps {
		out[k] = v
	}
	return out
}

// Value returns the value for role and whether it exists.
func (ps ParamSet) Value(role string) (float64, bool) {
	p, ok := ps[role]
	return p.Value, ok
}

// Keys returns the roles in sorted order.
func (ps ParamSet) Keys() []string {
	keys := make([]string, 0, len(ps))
	for k := range ps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AllConstant returns a copy with every parameter fixed at its value.
func (ps ParamSet) AllConstant() ParamSet {
	out := make(ParamSet, len(ps))
	for k, v := range ps {
		out[k] = v.AsConstant()
	}
	return out
}

// Spec is a family plus its parameters.
type Spec struct {
	Family Family   `json:"family" yaml:"family"`
	Params ParamSet `json:"params" yaml:"params"`
}

// Validate checks that the family is known and every required role is present.
func (s Spec) Validate() error {
	roles, err := s.Family.Roles()
	if err != nil {
		return err
	}
	for _, role := range roles {
		if _, ok := s.Params[role]; !ok {
			return core.NewMissingParameterError(string(s.Family), role)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s Spec) Clone() Spec {
	return Spec{Family: s.Family, Params: s.Params.Clone()}
}

func (s Spec) String() string {
	parts := make([]string, 0, len(s.Params))
	for _, k := range s.Params.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%.4g", k, s.Params[k].Value))
	}
	return fmt.Sprintf("%s(%s)", s.Family, strings.Join(parts, ", "))
}
