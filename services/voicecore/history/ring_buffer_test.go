// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import "testing"

func TestNewRingBuffer_DefaultCapacity(t *testing.T) {
	r := NewRingBuffer[int](0)
	if r.Cap() != 100 {
		t.Errorf("Cap() = %d, want 100", r.Cap())
	}
}

func TestRingBuffer_PushAndItems(t *testing.T) {
	r := NewRingBuffer[int](3)

	r.Push(1)
	r.Push(2)

	items := r.Items()
	if len(items) != 2 {
		t.Fatalf("len(Items()) = %d, want 2", len(items))
	}
	if items[0] != 1 || items[1] != 2 {
		t.Errorf("Items() = %v, want [1 2]", items)
	}
}

func TestRingBuffer_OverwritesOldest(t *testing.T) {
	r := NewRingBuffer[int](3)

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	items := r.Items()
	want := []int{3, 4, 5}
	if len(items) != len(want) {
		t.Fatalf("len(Items()) = %d, want %d", len(items), len(want))
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("Items()[%d] = %d, want %d", i, items[i], want[i])
		}
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRingBuffer_Pop(t *testing.T) {
	r := NewRingBuffer[string](2)

	if _, ok := r.Pop(); ok {
		t.Error("Pop() on empty buffer returned ok")
	}

	r.Push("a")
	r.Push("b")

	got, ok := r.Pop()
	if !ok || got != "a" {
		t.Errorf("Pop() = %q, %v; want %q, true", got, ok, "a")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRingBuffer_Last(t *testing.T) {
	r := NewRingBuffer[int](5)
	for i := 1; i <= 4; i++ {
		r.Push(i)
	}

	tests := []struct {
		n    int
		want []int
	}{
		{0, nil},
		{2, []int{3, 4}},
		{10, []int{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		got := r.Last(tt.n)
		if len(got) != len(tt.want) {
			t.Errorf("Last(%d) = %v, want %v", tt.n, got, tt.want)
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("Last(%d)[%d] = %d, want %d", tt.n, i, got[i], tt.want[i])
			}
		}
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	r := NewRingBuffer[int](3)
	r.Push(1)
	r.Push(2)

	r.Clear()

	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", r.Len())
	}
	if len(r.Items()) != 0 {
		t.Errorf("Items() after Clear = %v, want empty", r.Items())
	}

	// Buffer remains usable after Clear.
	r.Push(7)
	if got := r.Items(); len(got) != 1 || got[0] != 7 {
		t.Errorf("Items() after Clear+Push = %v, want [7]", got)
	}
}

func TestRingBuffer_WrapAroundAfterPop(t *testing.T) {
	r := NewRingBuffer[int](3)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Pop()
	r.Push(4)
	r.Push(5) // overwrites 2

	items := r.Items()
	want := []int{3, 4, 5}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("Items() = %v, want %v", items, want)
		}
	}
}
