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
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultRegion = "us-east-1"

// Rewrites s3://bucket/key into the bucket's virtual-hosted HTTPS endpoint
func RewriteS3URL(path, region string) (string, error) {
	rest:=path[len("s3://"):]
	slash:=strings.IndexByte(rest, '/')
	if slash<=0 || slash==len(rest)-1 {
		return "", fmt.Errorf("malformed S3 path %q, need s3://bucket/key", path)
	}
	bucket, key:=rest[:slash], rest[slash+1:]
	if region=="" || region==defaultRegion {
		return "https://"+bucket+".s3.amazonaws.com/"+key, nil
	}
	return "https://"+bucket+".s3."+region+".amazonaws.com/"+key, nil
}

// Random access over a remote object via HTTP range requests. Each ReadAt
// issues one ranged GET, so sequential consumers should buffer in large
// chunks. Requests are SigV4-signed when a credential is present
type httpSource struct {
	url    string
	client *http.Client
	cred   *Credential
	region string
	size   int64
}

func openHTTP(url string, opts *Options) (*Source, error) {
	h:=&httpSource{url: url, client: opts.Client, cred: opts.Credential, region: opts.Region}
	if h.client==nil { h.client=http.DefaultClient }
	if h.region=="" { h.region=defaultRegion }
	size, err:=h.probeSize()
	if err!=nil { return nil, fmt.Errorf("%s: %s", url, err.Error()) }
	h.size=size
	return &Source{r: countReaderAt(h, opts.Monitor), size: size}, nil
}

func (h *httpSource) do(method, rangeHeader string) (*http.Response, error) {
	req, err:=http.NewRequest(method, h.url, nil)
	if err!=nil { return nil, err }
	if rangeHeader!="" {
		req.Header.Set("Range", rangeHeader)
	}
	if h.cred!=nil {
		SignV4(req, *h.cred, h.region, time.Now().UTC())
	}
	return h.client.Do(req)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Object size via HEAD, with a one-byte ranged GET as fallback for servers
// that omit the content length
func (h *httpSource) probeSize() (int64, error) {
	resp, err:=h.do(http.MethodHead, "")
	if err!=nil { return 0, err }
	drain(resp)
	if resp.StatusCode==http.StatusOK && resp.ContentLength>=0 {
		return resp.ContentLength, nil
	}

	resp, err=h.do(http.MethodGet, "bytes=0-0")
	if err!=nil { return 0, err }
	defer drain(resp)
	if resp.StatusCode!=http.StatusPartialContent {
		return 0, fmt.Errorf("HTTP %s probing object size", resp.Status)
	}
	cr:=resp.Header.Get("Content-Range") // e.g. "bytes 0-0/12345"
	slash:=strings.LastIndexByte(cr, '/')
	if slash<0 {
		return 0, fmt.Errorf("no total size in Content-Range %q", cr)
	}
	return strconv.ParseInt(cr[slash+1:], 10, 64)
}

func (h *httpSource) ReadAt(p []byte, off int64) (n int, err error) {
	if len(p)==0 { return 0, nil }
	if off>=h.size { return 0, io.EOF }
	want:=int64(len(p))
	if off+want>h.size { want=h.size-off }

	resp, err:=h.do(http.MethodGet, fmt.Sprintf("bytes=%d-%d", off, off+want-1))
	if err!=nil { return 0, err }
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// server ignored the range and sent the whole object
		if off>0 {
			if _, err=io.CopyN(io.Discard, resp.Body, off); err!=nil { return 0, err }
		}
	default:
		return 0, fmt.Errorf("HTTP %s reading bytes %d-%d of %s", resp.Status, off, off+want-1, h.url)
	}

	n, err=io.ReadFull(resp.Body, p[:want])
	if err==io.ErrUnexpectedEOF { err=io.EOF }
	if err==nil && want<int64(len(p)) { err=io.EOF } // short fill at the object end
	return n, err
}
