// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements host (in-memory) tensors: a Shape plus a flat slice of the
// Go type corresponding to the Shape's DType.
//
// Tensors here are the concrete values flowing through a scan loop: sequence inputs,
// initial recurrent states, per-step slices and the materialized outer outputs. The
// layout is row-major ("C order"), with axis 0 the leading axis; sequences and loop
// buffers are time-major, one row (axis-0 slice) per step.
//
// Supported DTypes: Bool, Int32, Int64, Float32, Float64.
package tensors

import (
	"encoding/gob"
	"fmt"
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/scan/types/shapes"
	"github.com/pkg/errors"
)

// Tensor holds a shape and the reference to the flat data.
//
// The flat data is always a slice of the Go type corresponding to shape.DType. It may be
// shared: Row returns a view into the same underlying storage.
type Tensor struct {
	shape shapes.Shape

	// flat is always a slice of the underlying data type (shape.DType).
	flat any
}

// Supported is the constraint of Go types with a corresponding supported DType.
type Supported interface {
	bool | int32 | int64 | float32 | float64
}

// FromShape creates a zero-initialized Tensor with the given shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	flat := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size()).Interface()
	return &Tensor{shape: shape, flat: flat}
}

// FromFlatAndDimensions creates a Tensor from the flat data and the given dimensions.
// The flat slice is used directly (not copied); its length must match the product of the
// dimensions.
func FromFlatAndDimensions[T Supported](flat []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(flat) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatAndDimensions(%s): flat has %d values, shape needs %d",
			shape, len(flat), shape.Size())
	}
	return &Tensor{shape: shape, flat: flat}
}

// FromScalar creates a scalar Tensor holding the given value.
func FromScalar[T Supported](value T) *Tensor {
	return &Tensor{shape: shapes.Scalar[T](), flat: []T{value}}
}

// FromValue creates a rank-1 Tensor from a Go slice.
func FromValue[T Supported](values []T) *Tensor {
	return FromFlatAndDimensions(slices.Clone(values), len(values))
}

// Shape of the Tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the Tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size is the number of elements stored, the product of the dimensions.
func (t *Tensor) Size() int { return t.shape.Size() }

// Flat returns the underlying flat data slice (as an `any`). It is shared, not a copy.
func (t *Tensor) Flat() any { return t.flat }

// FlatOf returns the underlying flat data of the Tensor as a slice of the requested type.
// It panics if T does not correspond to the tensor's DType.
func FlatOf[T Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("tensors.FlatOf[%T]: tensor has dtype %s", flat, t.DType())
	}
	return flat
}

// ScalarValue returns the single value of a scalar (or size-1) tensor.
func ScalarValue[T Supported](t *Tensor) T {
	flat := FlatOf[T](t)
	if len(flat) != 1 {
		exceptions.Panicf("tensors.ScalarValue: tensor shape %s has %d elements", t.shape, len(flat))
	}
	return flat[0]
}

// Clone returns a deep copy of the Tensor: storage is not shared.
func (t *Tensor) Clone() *Tensor {
	c := FromShape(t.shape.Clone())
	copyFlat(c.flat, t.flat)
	return c
}

// CopyFrom copies the contents of other into t. Shapes must be equal.
func (t *Tensor) CopyFrom(other *Tensor) {
	if !t.shape.Equal(other.shape) {
		exceptions.Panicf("Tensor.CopyFrom: shape mismatch %s vs %s", t.shape, other.shape)
	}
	copyFlat(t.flat, other.flat)
}

// Equal compares shape and contents, exact (bit) equality.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	return reflect.DeepEqual(t.flat, other.flat)
}

// String pretty-prints small tensors, and shape+size for larger ones.
func (t *Tensor) String() string {
	const maxSizeToPrint = 16
	if t == nil {
		return "Tensor(nil)"
	}
	if t.Size() <= maxSizeToPrint {
		return fmt.Sprintf("%s: %v", t.shape, t.flat)
	}
	return fmt.Sprintf("%s: (%d values)", t.shape, t.Size())
}

// Row returns the slice of t at the given index of its leading (axis 0) dimension.
// The returned Tensor shares the underlying storage with t -- writing to one is visible
// in the other.
func (t *Tensor) Row(index int) *Tensor {
	if t.shape.Rank() == 0 {
		exceptions.Panicf("Tensor.Row on scalar tensor %s", t.shape)
	}
	numRows := t.shape.Dim(0)
	if index < 0 || index >= numRows {
		exceptions.Panicf("Tensor.Row(%d) out-of-bounds, tensor shape is %s", index, t.shape)
	}
	rowShape := t.shape.DropLeadingAxis()
	rowSize := rowShape.Size()
	flatValue := reflect.ValueOf(t.flat).Slice(index*rowSize, (index+1)*rowSize)
	return &Tensor{shape: rowShape, flat: flatValue.Interface()}
}

// SetRow copies value into the row at the given index of t's leading dimension.
func (t *Tensor) SetRow(index int, value *Tensor) {
	t.Row(index).CopyFrom(value)
}

// Rows returns all axis-0 slices of t, sharing storage.
func (t *Tensor) Rows() []*Tensor {
	numRows := t.shape.Dim(0)
	rows := make([]*Tensor, numRows)
	for ii := range rows {
		rows[ii] = t.Row(ii)
	}
	return rows
}

// Stack creates a new Tensor with one extra leading axis, stacking the given tensors,
// which must all have the same shape. The result owns its storage.
func Stack(parts []*Tensor) *Tensor {
	if len(parts) == 0 {
		exceptions.Panicf("tensors.Stack of empty list")
	}
	for ii, part := range parts {
		if !part.shape.Equal(parts[0].shape) {
			exceptions.Panicf("tensors.Stack: part %d has shape %s, want %s", ii, part.shape, parts[0].shape)
		}
	}
	stacked := FromShape(parts[0].shape.Prepend(len(parts)))
	for ii, part := range parts {
		stacked.SetRow(ii, part)
	}
	return stacked
}

// copyFlat assumes both flat slices are of the same underlying type.
func copyFlat(flatDst, flatSrc any) {
	reflect.Copy(reflect.ValueOf(flatDst), reflect.ValueOf(flatSrc))
}

// GobSerialize the Tensor in binary format.
func (t *Tensor) GobSerialize(encoder *gob.Encoder) (err error) {
	err = t.shape.GobSerialize(encoder)
	if err != nil {
		return
	}
	err = encoder.Encode(&t.flat)
	if err != nil {
		err = errors.Wrapf(err, "failed to serialize Tensor flat data (shape %s)", t.shape)
	}
	return
}

// GobDeserialize a Tensor. Returns the new Tensor or an error.
func GobDeserialize(decoder *gob.Decoder) (t *Tensor, err error) {
	t = &Tensor{}
	t.shape, err = shapes.GobDeserialize(decoder)
	if err != nil {
		return nil, err
	}
	err = decoder.Decode(&t.flat)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to deserialize Tensor flat data (shape %s)", t.shape)
	}
	return
}

func init() {
	// Concrete flat slice types, so they can be encoded through the `any` field.
	gob.Register([]bool{})
	gob.Register([]int32{})
	gob.Register([]int64{})
	gob.Register([]float32{})
	gob.Register([]float64{})
}
