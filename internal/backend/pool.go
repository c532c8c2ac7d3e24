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
	"sync"
)

// Pools of constant sized raw byte buffers, keyed by size, to reduce memory
// allocation overhead. A cut batch reads thousands of identically sized row
// runs, so per-size pooling hits on nearly every read
var poolRaw=struct{
	sync.RWMutex
	m map[int]*sync.Pool
}{m: make(map[int]*sync.Pool)}

// Returns a pool for byte buffers of the given size
func getSizedPoolRaw(size int) *sync.Pool {
	poolRaw.RLock()
	pool:=poolRaw.m[size]
	poolRaw.RUnlock()
	if pool==nil {
		pool=&sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
		poolRaw.Lock()
		poolRaw.m[size]=pool
		poolRaw.Unlock()
	}
	return pool
}

// Retrieves a buffer of the given size from the pool
func getRawFromPool(size int) []byte {
	pool:=getSizedPoolRaw(size)
	return pool.Get().([]byte)
}

// Returns a buffer to the pool
func putRawIntoPool(buf []byte) {
	pool:=getSizedPoolRaw(cap(buf))
	pool.Put(buf[:cap(buf)])
}
