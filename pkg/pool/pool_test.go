// Unit tests for free lists
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"sync"
	"testing"
)

type item struct {
	id    int
	value float64
}

func TestFreeListReuse(t *testing.T) {
	fl := NewFreeList(2, func(it *item) { *it = item{} })

	a := fl.Get()
	a.id = 7
	a.value = 1.5
	fl.Put(a)

	b := fl.Get()
	if b != a {
		t.Fatal("expected the returned object to be reused")
	}
	if b.id != 0 || b.value != 0 {
		t.Errorf("object not reset: %+v", *b)
	}
}

func TestFreeListGrowth(t *testing.T) {
	fl := NewFreeList[item](2, nil)

	objs := []*item{fl.Get(), fl.Get(), fl.Get()}
	st := fl.Stats()
	if st.Allocated != 3 || st.Grown != 1 || st.InUse != 3 || st.HighWater != 3 {
		t.Errorf("unexpected stats after growth: %+v", st)
	}

	for _, o := range objs {
		fl.Put(o)
	}
	st = fl.Stats()
	if st.InUse != 0 || st.HighWater != 3 {
		t.Errorf("unexpected stats after release: %+v", st)
	}

	fl.ResetHighWater()
	if fl.Stats().HighWater != 0 {
		t.Error("high water not reset")
	}
}

func TestFreeListPutNil(t *testing.T) {
	fl := NewFreeList[item](1, nil)
	fl.Put(nil)
	if fl.Stats().InUse != 0 {
		t.Error("nil put should be ignored")
	}
}

func TestFreeListConcurrent(t *testing.T) {
	fl := NewFreeList[item](16, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				it := fl.Get()
				it.id = i
				fl.Put(it)
			}
		}()
	}
	wg.Wait()

	if st := fl.Stats(); st.InUse != 0 {
		t.Errorf("objects leaked: %+v", st)
	}
}

func BenchmarkFreeList(b *testing.B) {
	fl := NewFreeList[item](64, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fl.Put(fl.Get())
	}
}
