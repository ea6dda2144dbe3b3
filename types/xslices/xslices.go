// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the standard `slices` package.
// Mostly, it includes the typical functional slice transformations (maps, fills,
// negative indexing) that the scan and graph packages use throughout.
package xslices

import (
	"slices"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// Map executes the given function sequentially for every element on in, and returns a
// mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// MapIndexed is like Map, but fn also receives the index of the element.
func MapIndexed[In, Out any](in []In, fn func(ii int, e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(ii, e)
	}
	return
}

// At returns the element at the given index. If the index is negative, it indexes from
// the end: At(slice, -1) is the last element.
//
// It panics for out-of-bound indices, like normal slice indexing.
func At[T any](slice []T, index int) T {
	if index < 0 {
		index = len(slice) + index
	}
	if index < 0 || index >= len(slice) {
		exceptions.Panicf("xslices.At(slice, %d) out-of-bounds for slice of length %d", index, len(slice))
	}
	return slice[index]
}

// Last returns the last element of a slice.
func Last[T any](slice []T) T {
	return At(slice, -1)
}

// SliceWithValue creates a slice of the given size filled with the given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = value
	}
	return s
}

// Iota returns a slice of the given size with sequentially increasing values, starting
// with start: start, start+1, ..., start+size-1.
func Iota[T constraints.Integer | constraints.Float](start T, size int) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = start + T(ii)
	}
	return s
}

// Keep returns the elements of in for which keep is true, preserving order.
func Keep[T any](in []T, keep func(e T) bool) (out []T) {
	out = make([]T, 0, len(in))
	for _, e := range in {
		if keep(e) {
			out = append(out, e)
		}
	}
	return
}

// SortedKeys returns the keys of the map sorted in their natural order.
func SortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
