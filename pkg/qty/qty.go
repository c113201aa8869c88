/*
Copyright 2026 Serge Logvinov.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package qty normalizes Kubernetes resource quantities into exact,
// kind-tagged values that can be summed and compared without rounding error.
package qty

import (
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
)

var (
	// ErrMalformedQuantity is returned when a quantity text does not match the
	// numeric-plus-suffix grammar (binary Ki/Mi/Gi, decimal k/M/G, milli "m",
	// or exponent notation).
	ErrMalformedQuantity = errors.New("malformed quantity")

	// ErrIncompatibleKinds is returned by arithmetic on quantities of two
	// different resource kinds. It signals a logic defect in the caller, not
	// bad input.
	ErrIncompatibleKinds = errors.New("incompatible resource kinds")
)

// Qty is an exact quantity of a single resource kind. The zero value has no
// kind and is only useful as a placeholder; build values with Parse or
// FromQuantity.
type Qty struct {
	kind  string
	value resource.Quantity
}

// Parse converts a quantity text into a Qty of the given kind.
func Parse(kind, text string) (Qty, error) {
	v, err := resource.ParseQuantity(text)
	if err != nil {
		return Qty{}, fmt.Errorf("%w: %q for resource %q: %v", ErrMalformedQuantity, text, kind, err)
	}

	return Qty{kind: kind, value: v}, nil
}

// MustParse is Parse for literals, it panics on malformed text.
func MustParse(kind, text string) Qty {
	q, err := Parse(kind, text)
	if err != nil {
		panic(err)
	}

	return q
}

// FromQuantity wraps an already-parsed apimachinery quantity.
func FromQuantity(kind string, v resource.Quantity) Qty {
	return Qty{kind: kind, value: v}
}

// Zero returns the explicit zero quantity of a kind. It is distinct from an
// absent quantity, which callers represent with a nil *Qty.
func Zero(kind string) Qty {
	return Qty{kind: kind, value: *resource.NewQuantity(0, resource.DecimalSI)}
}

// Kind returns the resource kind this quantity counts.
func (q Qty) Kind() string {
	return q.kind
}

// IsZero reports whether the value is exactly zero.
func (q Qty) IsZero() bool {
	return q.value.IsZero()
}

func (q Qty) sameKind(o Qty) error {
	if q.kind != o.kind {
		return fmt.Errorf("%w: %q and %q", ErrIncompatibleKinds, q.kind, o.kind)
	}

	return nil
}

// Add returns q+o. Both operands must be of the same kind.
func (q Qty) Add(o Qty) (Qty, error) {
	if err := q.sameKind(o); err != nil {
		return Qty{}, err
	}

	v := q.value.DeepCopy()
	v.Add(o.value)

	return Qty{kind: q.kind, value: v}, nil
}

// Sub returns q-o. Both operands must be of the same kind.
func (q Qty) Sub(o Qty) (Qty, error) {
	if err := q.sameKind(o); err != nil {
		return Qty{}, err
	}

	v := q.value.DeepCopy()
	v.Sub(o.value)

	return Qty{kind: q.kind, value: v}, nil
}

// Cmp returns -1, 0 or 1 ordering q against o.
func (q Qty) Cmp(o Qty) (int, error) {
	if err := q.sameKind(o); err != nil {
		return 0, err
	}

	return q.value.Cmp(o.value), nil
}

// Max returns the larger of q and o.
func (q Qty) Max(o Qty) (Qty, error) {
	c, err := q.Cmp(o)
	if err != nil {
		return Qty{}, err
	}

	if c >= 0 {
		return q, nil
	}

	return o, nil
}

// Percent returns q as a percentage of total. The bool result is false when
// the ratio is not computable: mismatched kinds or a zero denominator.
func (q Qty) Percent(total Qty) (float64, bool) {
	if q.kind != total.kind || total.value.IsZero() {
		return 0, false
	}

	return q.value.AsApproximateFloat64() / total.value.AsApproximateFloat64() * 100, true
}

// String renders the canonical textual form. Parsing it back yields an equal
// value, so formatting is a stable round-trip.
func (q Qty) String() string {
	return q.value.String()
}

// Adjusted renders the value scaled to a readable unit for its family:
// fractional cores for cpu, binary byte units for memory-like kinds, plain
// counts otherwise.
func (q Qty) Adjusted() string {
	if q.kind == "cpu" {
		return formatMilli(q.value.MilliValue())
	}

	if q.value.Format == resource.BinarySI {
		return formatBinary(q.value.Value())
	}

	return q.value.String()
}

func formatMilli(milli int64) string {
	if milli >= 1000 && milli%100 == 0 {
		return fmt.Sprintf("%.1f", float64(milli)/1000.0)
	}

	return fmt.Sprintf("%dm", milli)
}

func formatBinary(bytes int64) string {
	abs := bytes
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs >= 1024*1024*1024:
		return fmt.Sprintf("%.1fGi", float64(bytes)/(1024*1024*1024))
	case abs >= 1024*1024:
		return fmt.Sprintf("%.0fMi", float64(bytes)/(1024*1024))
	case abs >= 1024:
		return fmt.Sprintf("%.0fKi", float64(bytes)/1024)
	}

	return fmt.Sprintf("%d", bytes)
}
