// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package fits

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// A synthetic pixel distribution for generating benchmark corpora.
// Parameter meaning depends on the kind: normal uses A as location and B as
// scale, uniform uses A as low and B as high, poisson uses A as lambda,
// power uses A as exponent and B as multiplier
type Generator struct {
	Kind string  `json:"kind" yaml:"kind"`
	A    float64 `json:"a"    yaml:"a"`
	B    float64 `json:"b"    yaml:"b"`
}

// Named generator presets matching the usual benchmark corpus
var GeneratorPresets=map[string]Generator{
	"normal0":  {Kind: "normal",  A: 0, B: 1},
	"normal1":  {Kind: "normal",  A: 0, B: 100},
	"uniform0": {Kind: "uniform", A: 0, B: 1},
	"uniform1": {Kind: "uniform", A: -100000, B: 100000},
	"poisson":  {Kind: "poisson", A: 100},
	"power0":   {Kind: "power",   A: 0.1, B: 10},
	"power1":   {Kind: "power",   A: 2, B: 255},
}

// Parses a generator spec: a preset name, or "<kind>:<a>[:<b>]"
func ParseGenerator(s string) (Generator, error) {
	if g, ok:=GeneratorPresets[s]; ok { return g, nil }
	parts:=strings.Split(s, ":")
	g:=Generator{Kind: parts[0]}
	if len(parts)>1 {
		if _, err:=fmt.Sscanf(parts[1], "%g", &g.A); err!=nil { return g, fmt.Errorf("bad generator parameter %q", parts[1]) }
	}
	if len(parts)>2 {
		if _, err:=fmt.Sscanf(parts[2], "%g", &g.B); err!=nil { return g, fmt.Errorf("bad generator parameter %q", parts[2]) }
	}
	switch g.Kind {
	case "normal", "uniform", "poisson", "power":
		return g, nil
	}
	return g, fmt.Errorf("unknown generator kind %q", g.Kind)
}

// Creates a FITS image with the given axis sizes, filled with pixel values
// drawn from the generator distribution. Reproducible for a fixed seed
func NewImageFromRandom(gen Generator, naxisn []int32, seed uint64) (*Image, error) {
	f:=NewImageFromNaxisn(naxisn, nil)
	src:=rand.NewSource(seed)

	switch gen.Kind {
	case "normal":
		d:=distuv.Normal{Mu: gen.A, Sigma: gen.B, Src: src}
		for i:=range(f.Data) { f.Data[i]=float32(d.Rand()) }
	case "uniform":
		d:=distuv.Uniform{Min: gen.A, Max: gen.B, Src: src}
		for i:=range(f.Data) { f.Data[i]=float32(d.Rand()) }
	case "poisson":
		d:=distuv.Poisson{Lambda: gen.A, Src: src}
		for i:=range(f.Data) { f.Data[i]=float32(d.Rand()) }
	case "power":
		d:=distuv.Uniform{Min: 0, Max: 1, Src: src}
		invExp:=1.0/gen.A
		for i:=range(f.Data) { f.Data[i]=float32(math.Pow(d.Rand(), invExp)*gen.B) }
	default:
		return nil, fmt.Errorf("unknown generator kind %q", gen.Kind)
	}
	return f, nil
}
