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


package rest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"github.com/gin-gonic/gin"

	"github.com/mlnoga/skycut/internal/cutter"
	"github.com/mlnoga/skycut/internal/fits"
)

// Handlers confine requests to the working tree, so tests run from a
// temporary directory holding their fixtures
func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir:=t.TempDir()
	wd, err:=os.Getwd()
	if err!=nil { t.Fatalf("getwd: %s", err.Error()) }
	if err:=os.Chdir(dir); err!=nil { t.Fatalf("chdir: %s", err.Error()) }
	t.Cleanup(func() { os.Chdir(wd) })

	return Router(&cutter.Context{Log: io.Discard, MemoryMB: 1024, MaxThreads: 2})
}

// Writes an empty primary HDU plus one ramp image HDU into the working
// directory and returns the relative file name
func writeRampFile(t *testing.T, name string, shape fits.Shape) string {
	t.Helper()
	img:=fits.NewImageFromShape(shape, nil)
	for i:=range(img.Data) { img.Data[i]=float32(i) }
	buf:=bytes.Buffer{}
	if err:=fits.WriteMulti(&buf, []*fits.Image{fits.NewImage(), img}); err!=nil {
		t.Fatalf("writing test images: %s", err.Error())
	}
	if err:=os.WriteFile(name, buf.Bytes(), 0644); err!=nil { t.Fatalf("writing %s: %s", name, err.Error()) }
	return name
}

func postJSON(r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	m, _:=json.Marshal(body)
	req:=httptest.NewRequest("POST", path, bytes.NewReader(m))
	req.Header.Set("Content-Type", "application/json")
	w:=httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req:=httptest.NewRequest("GET", path, nil)
	w:=httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIsPathAllowed(t *testing.T) {
	cases:=[]struct {
		path string
		want bool
	}{
		{"survey.fits",          true},
		{"sub/survey.fits",      true},
		{"/etc/passwd",          false},
		{"../survey.fits",       false},
		{"sub/../../other.fits", false},
		{"s3://nishapur/frame.fits",       true},
		{"https://host/data/frame.fits",   true},
	}
	for _,c:=range(cases) {
		if got:=isPathAllowed(c.path); got!=c.want {
			t.Errorf("%q: got %v, expected %v", c.path, got, c.want)
		}
	}
}

func TestPing(t *testing.T) {
	r:=testRouter(t)
	w:=get(r, "/api/v1/ping")
	if w.Code!=200 { t.Fatalf("status %d", w.Code) }
	if !strings.Contains(w.Body.String(), "pong") { t.Errorf("body: %s", w.Body.String()) }
}

func TestIndex(t *testing.T) {
	r:=testRouter(t)
	w:=get(r, "/")
	if w.Code!=200 { t.Fatalf("status %d", w.Code) }
	if ct:=w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") { t.Errorf("content type %s", ct) }
	if !strings.Contains(w.Body.String(), "Skycut") { t.Errorf("index page lacks title") }
}

func TestStat(t *testing.T) {
	r:=testRouter(t)
	writeRampFile(t, "survey.fits", fits.Shape{16, 32})

	w:=get(r, "/api/v1/stat?path=survey.fits")
	if w.Code!=200 { t.Fatalf("status %d: %s", w.Code, w.Body.String()) }
	var stats []fits.FileStat
	if err:=json.Unmarshal(w.Body.Bytes(), &stats); err!=nil { t.Fatalf("decoding: %s", err.Error()) }
	if len(stats)!=1 || stats[0].Path!="survey.fits" { t.Fatalf("stats: %+v", stats) }
	if len(stats[0].HDUs)!=2 { t.Fatalf("got %d HDUs, expected 2", len(stats[0].HDUs)) }
	if hdu:=stats[0].HDUs[1]; hdu.Type!="image" || len(hdu.Shape)!=2 || hdu.Shape[0]!=16 || hdu.Shape[1]!=32 {
		t.Errorf("HDU 1: %+v", hdu)
	}

	if w:=get(r, "/api/v1/stat"); w.Code!=http.StatusBadRequest { t.Errorf("missing path: status %d", w.Code) }
	if w:=get(r, "/api/v1/stat?path=/etc/passwd"); w.Code!=http.StatusBadRequest { t.Errorf("absolute path: status %d", w.Code) }
	if w:=get(r, "/api/v1/stat?path=missing.fits"); w.Code!=http.StatusInternalServerError { t.Errorf("missing file: status %d", w.Code) }
}

func TestCut(t *testing.T) {
	r:=testRouter(t)
	writeRampFile(t, "survey.fits", fits.Shape{32, 32})

	w:=postJSON(r, "/api/v1/cut", map[string]interface{}{
		"paths": []string{"survey.fits"}, "backend": "section",
		"hdu": 1, "count": 2, "lengths": []int32{8, 8}, "seed": 7,
	})
	if w.Code!=200 { t.Fatalf("status %d: %s", w.Code, w.Body.String()) }

	var resp cutResponse
	if err:=json.Unmarshal(w.Body.Bytes(), &resp); err!=nil { t.Fatalf("decoding: %s", err.Error()) }
	if len(resp.Files)!=1 { t.Fatalf("got %d files, expected 1", len(resp.Files)) }
	f:=resp.Files[0]
	if f.Path!="survey.fits" { t.Errorf("path: %s", f.Path) }
	if len(f.Shape)!=2 || f.Shape[0]!=32 || f.Shape[1]!=32 { t.Errorf("shape: %v", f.Shape) }
	if len(f.Boxes)!=2 { t.Fatalf("got %d boxes, expected 2", len(f.Boxes)) }
	for i,b:=range(f.Boxes) {
		for a,s:=range(b) {
			if s.Start<0 || s.End>32 || s.End-s.Start!=8 {
				t.Errorf("box %d axis %d: [%d,%d)", i, a, s.Start, s.End)
			}
		}
	}
	if f.Header["NAXIS1"]!=float64(32) { t.Errorf("header NAXIS1: %v", f.Header["NAXIS1"]) }
	if len(resp.Events)==0 || resp.Events[len(resp.Events)-1].Name!="made 2 cuts from 1 files" {
		t.Errorf("events: %+v", resp.Events)
	}
}

func TestCutPreview(t *testing.T) {
	r:=testRouter(t)
	writeRampFile(t, "survey.fits", fits.Shape{32, 32})

	args:=map[string]interface{}{
		"paths": []string{"survey.fits"}, "backend": "section",
		"hdu": 1, "count": 1, "lengths": []int32{8, 8}, "seed": 7, "format": "jpg",
	}
	w:=postJSON(r, "/api/v1/cut", args)
	if w.Code!=200 { t.Fatalf("jpg status %d: %s", w.Code, w.Body.String()) }
	if ct:=w.Header().Get("Content-Type"); ct!="image/jpeg" { t.Errorf("jpg content type: %s", ct) }
	if b:=w.Body.Bytes(); len(b)<2 || b[0]!=0xff || b[1]!=0xd8 { t.Errorf("not a JPEG stream") }

	args["format"]="falsecolor"
	w=postJSON(r, "/api/v1/cut", args)
	if w.Code!=200 { t.Fatalf("falsecolor status %d: %s", w.Code, w.Body.String()) }
	if b:=w.Body.Bytes(); len(b)<2 || b[0]!=0xff || b[1]!=0xd8 { t.Errorf("not a JPEG stream") }

	args["format"]="tiff"
	w=postJSON(r, "/api/v1/cut", args)
	if w.Code!=200 { t.Fatalf("tiff status %d: %s", w.Code, w.Body.String()) }
	if ct:=w.Header().Get("Content-Type"); ct!="image/tiff" { t.Errorf("tiff content type: %s", ct) }
	if s:=w.Body.String(); len(s)<2 || (s[:2]!="II" && s[:2]!="MM") { t.Errorf("not a TIFF stream") }
}

func TestCutErrors(t *testing.T) {
	r:=testRouter(t)
	writeRampFile(t, "survey.fits", fits.Shape{32, 32})

	w:=postJSON(r, "/api/v1/cut", map[string]interface{}{"count": 1, "lengths": []int32{8, 8}})
	if w.Code!=http.StatusBadRequest { t.Errorf("no paths: status %d", w.Code) }

	w=postJSON(r, "/api/v1/cut", map[string]interface{}{
		"paths": []string{"/abs/survey.fits"}, "count": 1, "lengths": []int32{8, 8},
	})
	if w.Code!=http.StatusBadRequest { t.Errorf("absolute path: status %d", w.Code) }

	w=postJSON(r, "/api/v1/cut", map[string]interface{}{
		"paths": []string{"survey.fits"}, "backend": "bogus", "hdu": 1, "count": 1, "lengths": []int32{8, 8},
	})
	if w.Code!=http.StatusInternalServerError { t.Errorf("bogus backend: status %d", w.Code) }
	if !strings.Contains(w.Body.String(), "unknown backend") { t.Errorf("bogus backend body: %s", w.Body.String()) }

	w=postJSON(r, "/api/v1/cut", map[string]interface{}{
		"paths": []string{"survey.fits"}, "hdu": 1, "count": 1, "lengths": []int32{8, 8}, "format": "bmp",
	})
	if w.Code!=http.StatusBadRequest { t.Errorf("unknown format: status %d", w.Code) }
}
