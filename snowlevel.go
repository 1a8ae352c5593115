/*
Copyright © 2018 the SnowLevel authors.
This file is part of SnowLevel.

SnowLevel is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SnowLevel is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SnowLevel.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package snowlevel calculates the falling snow level diagnostic: the
// altitude above sea level at which falling precipitation is forecast to
// change between rain and snow. The diagnostic is derived from vertical
// profiles of the wet-bulb temperature integral together
// with surface orography and a land/sea mask. The integral is
// accumulated from the surface up to each of a fixed set of height
// levels by an upstream model; this package only searches it.
//
// For every horizontal grid point the profile is scanned from the lowest
// height level upward for the first pair of adjacent levels that bracket
// the falling-level threshold, and the crossing height is found by linear
// interpolation. Points where the profile never brackets the threshold
// are then resolved by a cascade of fallbacks: columns that stay above
// the threshold throughout the sampled range are set to the top of the
// range, cold columns over the sea are set to sea level, and whatever
// remains is filled from the mean of neighboring points. Points on the
// domain boundary that survive all of the fallbacks keep the NaN
// sentinel; this is an accepted property of the diagnostic rather than
// an error.
package snowlevel

import (
	"time"

	"github.com/ctessum/sparse"
)

// Version gives the version number.
const Version = "1.2.1"

// DefaultFallingLevelThreshold is the value of the wet-bulb temperature
// integral [K m] at which precipitation is taken to change phase.
const DefaultFallingLevelThreshold = 90.0

// DefaultPrecision is the default tolerance used when comparing profile
// values against the falling-level threshold.
const DefaultPrecision = 0.005

// FallingSnowLevel calculates the falling snow level above sea level
// from wet-bulb temperature integral profiles.
type FallingSnowLevel struct {
	// FallingLevelThreshold is the wet-bulb temperature integral value
	// [K m] marking the rain/snow transition.
	FallingLevelThreshold float64

	// Precision is the numerical tolerance applied when comparing
	// profile values against FallingLevelThreshold, guarding the
	// threshold-crossing search against near-equal values.
	Precision float64
}

// NewFallingSnowLevel returns a FallingSnowLevel calculator with the
// default threshold and precision.
func NewFallingSnowLevel() *FallingSnowLevel {
	return &FallingSnowLevel{
		FallingLevelThreshold: DefaultFallingLevelThreshold,
		Precision:             DefaultPrecision,
	}
}

// Field holds one gridded variable along with its metadata. Data is
// dimensioned either (y, x), (z, y, x), or (realization, z, y, x)
// depending on the variable.
type Field struct {
	Name        string // short variable name
	Description string // long human-readable name
	Units       string // units of the data

	// Forecast identity, copied unchanged from the input data to the
	// output diagnostic.
	ValidTime     time.Time
	ReferenceTime time.Time
	Realizations  []int

	Data *sparse.DenseArray
}

// copyMeta returns a field with f's forecast-identity metadata but new
// naming and data.
func (f *Field) copyMeta(name, description, units string, data *sparse.DenseArray) *Field {
	return &Field{
		Name:          name,
		Description:   description,
		Units:         units,
		ValidTime:     f.ValidTime,
		ReferenceTime: f.ReferenceTime,
		Realizations:  f.Realizations,
		Data:          data,
	}
}
