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
	"errors"
	"testing"
)

type shapeOfTestCase struct {
	Name   string
	Ints   map[string]int32
	Expect Shape
}

func TestShapeOf(t *testing.T) {
	tcs:=[]shapeOfTestCase{
		shapeOfTestCase{"2d",        map[string]int32{"NAXIS":2, "NAXIS1":100, "NAXIS2":50}, Shape{50,100}},
		shapeOfTestCase{"1d",        map[string]int32{"NAXIS1":42}, Shape{42}},
		shapeOfTestCase{"cube",      map[string]int32{"NAXIS":3, "NAXIS1":1000, "NAXIS2":1000, "NAXIS3":50}, Shape{50,1000,1000}},
		shapeOfTestCase{"compressed",map[string]int32{"NAXIS":2, "NAXIS1":8, "NAXIS2":1, "ZNAXIS":3, "ZNAXIS1":10, "ZNAXIS2":20, "ZNAXIS3":3}, Shape{3,20,10}},
		shapeOfTestCase{"numericOrder", map[string]int32{"NAXIS1":2, "NAXIS2":3, "NAXIS10":7}, Shape{7,3,2}},
	}

	for _,tc:=range tcs {
		h:=NewHeader()
		for k,v:=range tc.Ints { h.Ints[k]=v }
		s,err:=ShapeOf(&h)
		if err!=nil { t.Errorf("%s: unexpected error %s", tc.Name, err.Error()); continue }
		if !s.Equal(tc.Expect) { t.Errorf("%s: got %v expect %v", tc.Name, s, tc.Expect) }
	}
}

func TestShapeOfMissingKeys(t *testing.T) {
	h:=NewHeader()
	h.Ints["NAXIS"]=2 // bare axis count without NAXISn extents does not qualify
	h.Ints["BITPIX"]=16
	h.Strings["OBJECT"]="M31"
	if _,err:=ShapeOf(&h); !errors.Is(err, ErrMissingAxisKeys) {
		t.Errorf("got %v expect ErrMissingAxisKeys", err)
	}
}

func TestShapeOfNonPositiveExtent(t *testing.T) {
	h:=NewHeader()
	h.Ints["NAXIS1"]=100
	h.Ints["NAXIS2"]=0
	_,err:=ShapeOf(&h)
	if err==nil { t.Errorf("expect error for zero extent") }
	if errors.Is(err, ErrMissingAxisKeys) { t.Errorf("zero extent must not report missing keys") }
}

func TestShapeHelpers(t *testing.T) {
	s:=Shape{3,20,10}
	if s.Pixels()!=600 { t.Errorf("pixels got %d expect 600", s.Pixels()) }
	if !s.Reversed().Equal(Shape{10,20,3}) { t.Errorf("reversed got %v", s.Reversed()) }
	if s.String()!="3x20x10" { t.Errorf("string got %s", s.String()) }
	if s.Equal(Shape{3,20}) { t.Errorf("shapes of different rank must differ") }
}

func TestImageShapeRoundTrip(t *testing.T) {
	img:=NewImageFromShape(Shape{50,100}, nil)
	if !EqualInt32Slice(img.Naxisn, []int32{100,50}) { t.Errorf("naxisn got %v expect [100 50]", img.Naxisn) }
	if img.Pixels!=5000 { t.Errorf("pixels got %d expect 5000", img.Pixels) }
	if !img.Shape().Equal(Shape{50,100}) { t.Errorf("shape got %v expect [50 100]", img.Shape()) }
}
