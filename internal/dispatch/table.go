package dispatch

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/zeebo/xxh3"

	"github.com/zephyrtronium/prask/internal/value"
)

// table1/table2 are small hash-bucketed method tables keyed by one or
// two TypeKeys, used by Single and Binary call sites respectively. Keys
// are hashed with xxh3 (github.com/zeebo/xxh3, a chazu-maggie pack dep)
// rather than relying on a plain Go map[TypeKey]Method, the way a
// systems-language rewrite would hand-roll its own hash table for a
// hot-path lookup instead of reaching for a language-level map type.
const tableBuckets = 64

type entry1 struct {
	key TypeKey
	m   Method
}

type table1 struct {
	mu      sync.RWMutex
	buckets [tableBuckets][]entry1
}

func newTable1() *table1 { return &table1{} }

func (t *table1) put(k TypeKey, m Method) {
	h := hashTypeKey(k) % tableBuckets
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.buckets[h] {
		if e.key == k {
			t.buckets[h][i].m = m
			return
		}
	}
	t.buckets[h] = append(t.buckets[h], entry1{key: k, m: m})
}

func (t *table1) get(k TypeKey) (Method, bool) {
	h := hashTypeKey(k) % tableBuckets
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.buckets[h] {
		if e.key == k {
			return e.m, true
		}
	}
	return nil, false
}

type entry2 struct {
	a, b TypeKey
	m    Method
}

type table2 struct {
	mu      sync.RWMutex
	buckets [tableBuckets][]entry2
}

func newTable2() *table2 { return &table2{} }

func (t *table2) put(a, b TypeKey, m Method) {
	h := hashPair(a, b) % tableBuckets
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.buckets[h] {
		if e.a == a && e.b == b {
			t.buckets[h][i].m = m
			return
		}
	}
	t.buckets[h] = append(t.buckets[h], entry2{a: a, b: b, m: m})
}

func (t *table2) get(a, b TypeKey) (Method, bool) {
	h := hashPair(a, b) % tableBuckets
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.buckets[h] {
		if e.a == a && e.b == b {
			return e.m, true
		}
	}
	return nil, false
}

// descPtrBits returns the bit pattern of a *value.TypeDesc (0 for nil),
// used only as hash-key material, never dereferenced or compared for
// anything but identity.
func descPtrBits(d *value.TypeDesc) uint64 {
	return uint64(uintptr(unsafe.Pointer(d)))
}

// hashTypeKey and hashPair hash a TypeKey (or pair) via xxh3 over its
// byte projection: one tag byte for Kind, eight bytes for the TypeDesc
// pointer's bit pattern (0 when nil, i.e. a primitive kind).
func hashTypeKey(k TypeKey) uint64 {
	var buf [9]byte
	buf[0] = byte(k.Kind)
	binary.LittleEndian.PutUint64(buf[1:9], descPtrBits(k.Desc))
	return xxh3.Hash(buf[:])
}

func hashPair(a, b TypeKey) uint64 {
	var buf [18]byte
	buf[0] = byte(a.Kind)
	binary.LittleEndian.PutUint64(buf[1:9], descPtrBits(a.Desc))
	buf[9] = byte(b.Kind)
	binary.LittleEndian.PutUint64(buf[10:18], descPtrBits(b.Desc))
	return xxh3.Hash(buf[:])
}
