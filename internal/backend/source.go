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


package backend

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/mlnoga/skycut/internal/monitor"
)

// A random-access byte source for FITS data: a local file, an in-memory
// buffer, or a remote object read via HTTP range requests. Reads pass
// through the configured transfer counter
type Source struct {
	r     io.ReaderAt
	size  int64
	close func() error
}

func (s *Source) ReaderAt() io.ReaderAt { return s.r }

func (s *Source) Size() int64 { return s.size }

func (s *Source) Close() error {
	if s.close==nil { return nil }
	return s.close()
}

// A fresh sequential view of the whole source
func (s *Source) SectionReader() *io.SectionReader {
	return io.NewSectionReader(s.r, 0, s.size)
}

// Resolves a path into an open source. s3://bucket/key is rewritten to the
// bucket's HTTPS endpoint; a .gz or .gzip suffix decompresses the source
// fully into memory, as compressed streams permit no random access
func OpenSource(path string, opts *Options) (*Source, error) {
	src, err:=openRaw(path, opts)
	if err!=nil { return nil, err }
	lower:=strings.ToLower(path)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".gzip") {
		defer src.Close()
		return decompress(src)
	}
	return src, nil
}

func openRaw(path string, opts *Options) (*Source, error) {
	lower:=strings.ToLower(path)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		url, err:=RewriteS3URL(path, opts.Region)
		if err!=nil { return nil, err }
		return openHTTP(url, opts)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return openHTTP(path, opts)
	}
	return openLocal(path, opts)
}

func openLocal(path string, opts *Options) (*Source, error) {
	file, err:=os.Open(path)
	if err!=nil { return nil, err }
	info, err:=file.Stat()
	if err!=nil {
		file.Close()
		return nil, err
	}
	return &Source{r: countReaderAt(file, opts.Monitor), size: info.Size(), close: file.Close}, nil
}

// Reads the whole source through gzip into memory. The compressed bytes are
// counted as they stream in; reads from the decompressed buffer are free,
// as that transfer has already happened
func decompress(src *Source) (*Source, error) {
	gz, err:=gzip.NewReader(bufio.NewReaderSize(src.SectionReader(), 1<<20))
	if err!=nil { return nil, err }
	defer gz.Close()
	data, err:=io.ReadAll(gz)
	if err!=nil { return nil, err }
	return &Source{r: bytes.NewReader(data), size: int64(len(data))}, nil
}

// ReadAt with EOF at the exact end of the source treated as success
func readAtFull(r io.ReaderAt, p []byte, off int64) error {
	n, err:=r.ReadAt(p, off)
	if err==io.EOF && n==len(p) { err=nil }
	return err
}

type countingReaderAt struct {
	r io.ReaderAt
	c *monitor.Counter
}

func (cr *countingReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	n, err=cr.r.ReadAt(p, off)
	if n>0 { cr.c.Add(int64(n)) }
	return n, err
}

func countReaderAt(r io.ReaderAt, c *monitor.Counter) io.ReaderAt {
	if c==nil { return r }
	return &countingReaderAt{r: r, c: c}
}
