package pdf

import (
	"math"

	"alphabias/domain/core"
	"alphabias/domain/mass"
	"alphabias/domain/shape"
)

func expo(slope float64) func(float64) float64 {
	return func(x float64) float64 { return math.Exp(slope * x) }
}

func erfExp(slope, offset, width float64) func(float64) float64 {
	if width < 1e-2 {
		width = 1e-2
	}
	return func(x float64) float64 {
		return math.Exp(slope*x) * (1 + math.Erf((x-offset)/width)) / 2
	}
}

func expN(slope, n float64) func(float64) float64 {
	return func(x float64) float64 { return math.Exp(slope*x + n/x) }
}

func expTail(scale, curve float64) func(float64) float64 {
	return func(x float64) float64 {
		d := scale + curve*x
		if d <= 0 {
			return 0
		}
		return math.Exp(-x / d)
	}
}

func power(a float64) func(float64) float64 {
	return func(x float64) float64 {
		if x <= 0 {
			return 0
		}
		return math.Pow(x, a)
	}
}

// chebychev is 1 + a0 T1 + a1 T2 + a2 T3 on the full range mapped to [-1, 1].
func chebychev(a0, a1, a2 float64, full mass.Range) func(float64) float64 {
	return func(x float64) float64 {
		u := 2*(x-full.Lo)/full.Width() - 1
		t2 := 2*u*u - 1
		t3 := 4*u*u*u - 3*u
		v := 1 + a0*u + a1*t2 + a2*t3
		if v < 0 {
			return 0
		}
		return v
	}
}

func gauss(mean, sigma float64) func(float64) float64 {
	return func(x float64) float64 {
		if sigma <= 0 {
			return 0
		}
		z := (x - mean) / sigma
		return math.Exp(-0.5 * z * z)
	}
}

// single wraps one elementary function with unit coefficient.
func single(name string, f func(float64) float64) []term {
	return []term{{name: name, f: f, coef: 1}}
}

// mix assigns explicit fractions to the leading terms and the remainder to the last.
func mix(fracs []float64, terms ...term) []term {
	rest := 1.0
	for i, fr := range fracs {
		terms[i].coef = fr
		rest -= fr
	}
	terms[len(terms)-1].coef = rest
	return terms
}

func buildTerms(f shape.Family, v map[string]float64, full mass.Range) ([]term, error) {
	peak1 := func() term { return term{name: "peak1", f: gauss(v[shape.RoleMean1], v[shape.RoleSigma1])} }
	peak2 := func() term { return term{name: "peak2", f: gauss(v[shape.RoleMean2], v[shape.RoleSigma2])} }
	wide := func() term { return term{name: "wide", f: gauss(v[shape.RoleOffset], v[shape.RoleWidth])} }
	exp := func() term { return term{name: "exp", f: expo(v[shape.RoleSlope])} }
	erf := func() term {
		return term{name: "erfexp", f: erfExp(v[shape.RoleSlope], v[shape.RoleOffset], v[shape.RoleWidth])}
	}
	frac1, frac2 := v[shape.RoleFrac1], v[shape.RoleFrac2]

	switch f {
	case shape.EXP:
		return single("exp", expo(v[shape.RoleSlope])), nil
	case shape.EXPTAIL:
		return single("exptail", expTail(v[shape.RoleTailScale], v[shape.RoleTailShape])), nil
	case shape.EXPN:
		return single("expn", expN(v[shape.RoleSlope], v[shape.RoleN])), nil
	case shape.ERFEXP:
		return single("erfexp", erfExp(v[shape.RoleSlope], v[shape.RoleOffset], v[shape.RoleWidth])), nil
	case shape.POL:
		return single("chebychev", chebychev(v[shape.RoleA0], v[shape.RoleA1], v[shape.RoleA2], full)), nil
	case shape.POW:
		return single("pow", power(v[shape.RoleA0])), nil
	case shape.GAUS:
		return single("wide", gauss(v[shape.RoleOffset], v[shape.RoleWidth])), nil
	case shape.GAUS2:
		return mix([]float64{frac2}, peak2(), wide()), nil
	case shape.GAUS3:
		return mix([]float64{frac1, frac2}, peak1(), peak2(), wide()), nil
	case shape.EXPGAUS:
		return mix([]float64{frac1}, peak1(), exp()), nil
	case shape.EXPGAUS2:
		return mix([]float64{frac1, frac2}, peak1(), peak2(), exp()), nil
	case shape.ERFEXPGAUS:
		return mix([]float64{frac1}, peak1(), erf()), nil
	case shape.ERFEXPGAUS2:
		return mix([]float64{frac1, frac2}, peak1(), peak2(), erf()), nil
	}
	return nil, &core.UnsupportedShapeError{Family: string(f)}
}
