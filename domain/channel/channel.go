// Package channel maps an analysis channel name to its lepton and b-tag content, the
// shape families used for each background component, and the starting priors.
package channel

import (
	"fmt"
	"sort"
	"strings"

	"alphabias/domain/core"
	"alphabias/domain/shape"
)

// Known lists the analysis channels in their canonical order.
var Known = []string{
	"XZhnnb", "XZhnnbb",
	"XWhenb", "XWhenbb", "XWhmnb", "XWhmnbb",
	"XZheeb", "XZhmmb", "XZheebb", "XZhmmbb",
}

var (
	// topSF[nLept][nBtag] corrects the simulated top normalization.
	topSF    = [3][3]float64{{1, 0.852, 0.541}, {1, 0.818, 0.826}, {1, 1, 1}}
	topSFErr = [3][3]float64{{1, 0.062, 0.126}, {1, 0.032, 0.073}, {1, 1, 1}}
)

// Config describes one channel.
type Config struct {
	Name       string                           `json:"name"`
	NElectrons int                              `json:"n_electrons"`
	NMuons     int                              `json:"n_muons"`
	NBtag      int                              `json:"n_btag"`
	Families   map[shape.Component]shape.Family `json:"families"`
	AltVjet    shape.Family                     `json:"alt_vjet"`
	XMass      shape.Family                     `json:"x_mass"`
	XMassAlt   shape.Family                     `json:"x_mass_alt"`
	TopSF      float64                          `json:"top_sf"`
	TopSFErr   float64                          `json:"top_sf_err"`
}

// NLeptons is the charged lepton multiplicity.
func (c Config) NLeptons() int { return c.NElectrons + c.NMuons }

// Parse builds the channel configuration from its name.
func Parse(name string) (Config, error) {
	if !isKnown(name) {
		return Config{}, fmt.Errorf("%w: %q is not one of %s", core.ErrMalformedChannel, name, strings.Join(Known, ", "))
	}
	cfg := Config{
		Name:       name,
		NElectrons: strings.Count(name, "e"),
		NMuons:     strings.Count(name, "m"),
		NBtag:      strings.Count(name, "b"),
	}
	nLept := cfg.NLeptons()
	if nLept > 2 || cfg.NBtag > 2 {
		return Config{}, fmt.Errorf("%w: %q has %d leptons and %d b-tags", core.ErrMalformedChannel, name, nLept, cfg.NBtag)
	}
	cfg.TopSF = topSF[nLept][cfg.NBtag]
	cfg.TopSFErr = topSFErr[nLept][cfg.NBtag]
	cfg.Families = dispatch(cfg)
	cfg.AltVjet = shape.POL
	cfg.XMass, cfg.XMassAlt = xMassFamilies(cfg)
	return cfg, nil
}

// MustParse is Parse for names from Known.
func MustParse(name string) Config {
	cfg, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return cfg
}

func isKnown(name string) bool {
	for _, k := range Known {
		if k == name {
			return true
		}
	}
	return false
}

func dispatch(cfg Config) map[shape.Component]shape.Family {
	vjet := shape.ERFEXP
	if cfg.NBtag >= 2 {
		vjet = shape.EXP
	}
	switch cfg.NLeptons() {
	case 0:
		return map[shape.Component]shape.Family{shape.Vjet: vjet, shape.VV: shape.EXPGAUS, shape.Top: shape.GAUS2}
	case 1:
		top := shape.GAUS3
		if cfg.NBtag >= 2 {
			top = shape.GAUS2
		}
		return map[shape.Component]shape.Family{shape.Vjet: vjet, shape.VV: shape.EXPGAUS, shape.Top: top}
	default:
		if cfg.NElectrons > 0 {
			vjet = shape.EXP
		}
		return map[shape.Component]shape.Family{shape.Vjet: vjet, shape.VV: shape.EXPGAUS2, shape.Top: shape.GAUS}
	}
}

func xMassFamilies(cfg Config) (shape.Family, shape.Family) {
	switch cfg.NLeptons() {
	case 0:
		return shape.EXPN, shape.EXPTAIL
	case 1:
		if cfg.NElectrons > 0 {
			if cfg.NBtag >= 2 {
				return shape.EXPN, shape.POW
			}
			return shape.EXPTAIL, shape.EXPN
		}
		if cfg.NBtag >= 2 {
			return shape.EXPN, shape.POW
		}
		return shape.EXPN, shape.EXPTAIL
	default:
		return shape.EXPTAIL, shape.POW
	}
}

// WithFamily returns a copy using family f for component c.
func (c Config) WithFamily(comp shape.Component, f shape.Family) Config {
	out := c
	out.Families = make(map[shape.Component]shape.Family, len(c.Families))
	for k, v := range c.Families {
		out.Families[k] = v
	}
	out.Families[comp] = f
	return out
}

// Summary renders a one-line description for listings.
func (c Config) Summary() string {
	comps := make([]string, 0, len(c.Families))
	for comp, f := range c.Families {
		comps = append(comps, fmt.Sprintf("%s=%s", comp, f))
	}
	sort.Strings(comps)
	return fmt.Sprintf("%-8s lept=%d btag=%d %s alt=%s topSF=%.3f±%.3f",
		c.Name, c.NLeptons(), c.NBtag, strings.Join(comps, " "), c.AltVjet, c.TopSF, c.TopSFErr)
}
