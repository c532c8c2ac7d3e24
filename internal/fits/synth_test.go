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
	"testing"
)

func TestGeneratorDeterminism(t *testing.T) {
	gen:=GeneratorPresets["normal1"]
	a,err:=NewImageFromRandom(gen, []int32{16,16}, 123456)
	if err!=nil { t.Fatalf("%s", err.Error()) }
	b,err:=NewImageFromRandom(gen, []int32{16,16}, 123456)
	if err!=nil { t.Fatalf("%s", err.Error()) }
	for i:=range a.Data {
		if a.Data[i]!=b.Data[i] { t.Fatalf("same seed diverges at %d: %f vs %f", i, a.Data[i], b.Data[i]) }
	}

	c,err:=NewImageFromRandom(gen, []int32{16,16}, 654321)
	if err!=nil { t.Fatalf("%s", err.Error()) }
	same:=true
	for i:=range a.Data {
		if a.Data[i]!=c.Data[i] { same=false; break }
	}
	if same { t.Errorf("different seeds produce identical data") }
}

func TestGeneratorBounds(t *testing.T) {
	u,err:=NewImageFromRandom(Generator{Kind:"uniform", A:-100000, B:100000}, []int32{64,64}, 1)
	if err!=nil { t.Fatalf("%s", err.Error()) }
	for i,v:=range u.Data {
		if v< -100000 || v>100000 { t.Fatalf("uniform[%d]=%f out of range", i, v) }
	}

	p,err:=NewImageFromRandom(Generator{Kind:"power", A:2, B:255}, []int32{64,64}, 1)
	if err!=nil { t.Fatalf("%s", err.Error()) }
	for i,v:=range p.Data {
		if v<0 || v>255 { t.Fatalf("power[%d]=%f out of range", i, v) }
	}

	po,err:=NewImageFromRandom(GeneratorPresets["poisson"], []int32{64,64}, 1)
	if err!=nil { t.Fatalf("%s", err.Error()) }
	for i,v:=range po.Data {
		if v<0 || v!=float32(int32(v)) { t.Fatalf("poisson[%d]=%f not a count", i, v) }
	}
}

func TestGeneratorShape(t *testing.T) {
	img,err:=NewImageFromRandom(GeneratorPresets["normal0"], []int32{10,20,3}, 7)
	if err!=nil { t.Fatalf("%s", err.Error()) }
	if img.Pixels!=600 || len(img.Data)!=600 { t.Errorf("pixels got %d len %d", img.Pixels, len(img.Data)) }
	if !img.Shape().Equal(Shape{3,20,10}) { t.Errorf("shape got %v", img.Shape()) }
}

type parseGeneratorTestCase struct {
	In     string
	Expect Generator
}

func TestParseGenerator(t *testing.T) {
	tcs:=[]parseGeneratorTestCase{
		parseGeneratorTestCase{"normal0",        Generator{Kind:"normal",  A:0,    B:1}},
		parseGeneratorTestCase{"poisson",        Generator{Kind:"poisson", A:100,  B:0}},
		parseGeneratorTestCase{"normal:0:100",   Generator{Kind:"normal",  A:0,    B:100}},
		parseGeneratorTestCase{"power:0.1:10",   Generator{Kind:"power",   A:0.1,  B:10}},
		parseGeneratorTestCase{"poisson:42",     Generator{Kind:"poisson", A:42,   B:0}},
	}
	for _,tc:=range tcs {
		g,err:=ParseGenerator(tc.In)
		if err!=nil { t.Errorf("%s: %s", tc.In, err.Error()); continue }
		if g!=tc.Expect { t.Errorf("%s: got %+v expect %+v", tc.In, g, tc.Expect) }
	}

	for _,bad:=range []string{"gamma:1:2", "normal:abc", ""} {
		if _,err:=ParseGenerator(bad); err==nil { t.Errorf("%q: expect error", bad) }
	}
}
