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

package snowlevel

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// FindFallingLevel searches each column of the wet-bulb temperature
// integral wbInt (dimensions [z, y, x]) for the height at which the
// linearly-interpolated profile crosses the falling-level threshold.
// Levels are scanned from the lowest upward and the first bracketing
// pair wins; a profile value within Precision of the threshold counts
// as a bracket boundary. The returned array (dimensions [y, x]) holds
// the crossing height plus orography, giving height above sea level, or
// NaN where the profile never brackets the threshold. Inputs are not
// modified.
func (p *FallingSnowLevel) FindFallingLevel(wbInt, orog *sparse.DenseArray, heights []float64) *sparse.DenseArray {
	nz, ny, nx := wbInt.Shape[0], wbInt.Shape[1], wbInt.Shape[2]
	level := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			h, ok := p.crossingHeight(wbInt, heights, nz, j, i)
			if !ok {
				level.Set(math.NaN(), j, i)
				continue
			}
			level.Set(h+orog.Get(j, i), j, i)
		}
	}
	return level
}

// crossingHeight scans column (j, i) of wbInt for the first adjacent
// level pair bracketing the threshold and interpolates the crossing
// height within it. When the two profile values differ by no more than
// Precision the segment is flat at the threshold and the lower height
// is returned instead of dividing by the near-zero span.
func (p *FallingSnowLevel) crossingHeight(wbInt *sparse.DenseArray, heights []float64, nz, j, i int) (float64, bool) {
	for k := 0; k < nz-1; k++ {
		v0 := wbInt.Get(k, j, i)
		v1 := wbInt.Get(k+1, j, i)
		d0 := v0 - p.FallingLevelThreshold
		d1 := v1 - p.FallingLevelThreshold
		if d0*d1 > 0 && math.Abs(d0) > p.Precision && math.Abs(d1) > p.Precision {
			continue // both values on the same side of the threshold
		}
		if math.Abs(v1-v0) <= p.Precision {
			return heights[k], true
		}
		return heights[k] - d0*(heights[k+1]-heights[k])/(v1-v0), true
	}
	return 0, false
}

// FillInHighFallingLevels fills in, in place, unresolved points whose
// column never drops below the threshold within the sampled height
// range: where level is NaN and the topmost wet-bulb integral value
// highestWBInt exceeds the threshold, the falling level is set to the
// orography plus highestHeight, the topmost height level. Resolved
// points and columns whose topmost value does not exceed the threshold
// are left alone.
func (p *FallingSnowLevel) FillInHighFallingLevels(level, orog, highestWBInt *sparse.DenseArray, highestHeight float64) {
	for j := 0; j < level.Shape[0]; j++ {
		for i := 0; i < level.Shape[1]; i++ {
			if !math.IsNaN(level.Get(j, i)) {
				continue
			}
			if highestWBInt.Get(j, i) > p.FallingLevelThreshold {
				level.Set(orog.Get(j, i)+highestHeight, j, i)
			}
		}
	}
}

// FillInSeaPoints fills in, in place, unresolved sea points whose
// column stays below the threshold everywhere: where level is NaN, the
// land/sea mask is 0 (sea), and the column maximum of the wet-bulb
// integral maxWBInt is below the threshold, the falling level is set to
// 0 (sea level). The wet-bulb integral accumulates upward from the
// surface, so the topmost level value serves as the column maximum.
// Land points and resolved points are left alone.
func (p *FallingSnowLevel) FillInSeaPoints(level, landSea, maxWBInt *sparse.DenseArray) {
	for j := 0; j < level.Shape[0]; j++ {
		for i := 0; i < level.Shape[1]; i++ {
			if !math.IsNaN(level.Get(j, i)) {
				continue
			}
			if landSea.Get(j, i) == 0 && maxWBInt.Get(j, i) < p.FallingLevelThreshold {
				level.Set(0, j, i)
			}
		}
	}
}

// FillInByHorizontalInterpolation fills unresolved points with the
// arithmetic mean of their valid 8-connected neighbors, reading from
// level as it stands on entry and writing to a separate output array so
// that points filled during the pass do not feed back into it.
// NaN neighbors contribute nothing to the mean, and
// a point with no valid neighbors stays NaN. Only interior points,
// those whose full 3x3 neighborhood lies within the grid, are eligible;
// unresolved points on the domain boundary are returned unchanged.
func FillInByHorizontalInterpolation(level *sparse.DenseArray) *sparse.DenseArray {
	filled := level.Copy()
	ny, nx := level.Shape[0], level.Shape[1]
	nbrs := make([]float64, 0, 8)
	for j := 1; j < ny-1; j++ {
		for i := 1; i < nx-1; i++ {
			if !math.IsNaN(level.Get(j, i)) {
				continue
			}
			nbrs = nbrs[:0]
			for dj := -1; dj <= 1; dj++ {
				for di := -1; di <= 1; di++ {
					if dj == 0 && di == 0 {
						continue
					}
					if v := level.Get(j+dj, i+di); !math.IsNaN(v) {
						nbrs = append(nbrs, v)
					}
				}
			}
			if len(nbrs) > 0 {
				filled.Set(floats.Sum(nbrs)/float64(len(nbrs)), j, i)
			}
		}
	}
	return filled
}

// Process calculates the falling snow level above sea level for every
// horizontal grid point. wbInt holds the wet-bulb temperature integral
// with dimensions [z, y, x] or [realization, z, y, x]; heights are the
// corresponding height levels [m above ground], strictly ascending;
// orog is the surface altitude [m] and landSea the land/sea mask
// (0 = sea), both [y, x]. For each realization slice the
// threshold-crossing search runs first, followed by the high-profile,
// sea-point, and horizontal-interpolation fallbacks in that order, each
// touching only points the earlier stages left unresolved. Slices are
// independent and are processed in parallel. The result has dimensions
// [y, x] or [realization, y, x] and carries wbInt's forecast-identity
// metadata; boundary points that no stage could resolve remain NaN.
func (p *FallingSnowLevel) Process(wbInt *Field, heights []float64, orog, landSea *Field) (*Field, error) {
	const (
		name        = VarFallingSnowLevel
		description = "falling snow level above sea level"
		units       = "m"
	)
	data := wbInt.Data
	switch len(data.Shape) {
	case 3:
		if data.Shape[0] != len(heights) {
			return nil, fmt.Errorf("snowlevel: profile has %d levels but %d heights were given",
				data.Shape[0], len(heights))
		}
		out := p.processSlice(data, orog.Data, landSea.Data, heights)
		return wbInt.copyMeta(name, description, units, out), nil
	case 4:
		nr := data.Shape[0]
		if data.Shape[1] != len(heights) {
			return nil, fmt.Errorf("snowlevel: profile has %d levels but %d heights were given",
				data.Shape[1], len(heights))
		}
		out := sparse.ZerosDense(nr, data.Shape[2], data.Shape[3])
		nprocs := runtime.GOMAXPROCS(0)
		var wg sync.WaitGroup
		wg.Add(nprocs)
		for pp := 0; pp < nprocs; pp++ {
			go func(pp int) {
				defer wg.Done()
				for r := pp; r < nr; r += nprocs {
					res := p.processSlice(realizationSlice(data, r), orog.Data, landSea.Data, heights)
					setRealization(out, r, res)
				}
			}(pp)
		}
		wg.Wait()
		return wbInt.copyMeta(name, description, units, out), nil
	default:
		return nil, fmt.Errorf("snowlevel: profile data has %d dimensions; expected 3 or 4",
			len(data.Shape))
	}
}

// processSlice runs the stages over one [z, y, x] profile slice.
func (p *FallingSnowLevel) processSlice(wbInt, orog, landSea *sparse.DenseArray, heights []float64) *sparse.DenseArray {
	top := levelSlice(wbInt, len(heights)-1)
	level := p.FindFallingLevel(wbInt, orog, heights)
	p.FillInHighFallingLevels(level, orog, top, heights[len(heights)-1])
	p.FillInSeaPoints(level, landSea, top)
	return FillInByHorizontalInterpolation(level)
}

// levelSlice copies level k of a [z, y, x] array into a [y, x] array.
func levelSlice(a *sparse.DenseArray, k int) *sparse.DenseArray {
	o := sparse.ZerosDense(a.Shape[1], a.Shape[2])
	for j := 0; j < a.Shape[1]; j++ {
		for i := 0; i < a.Shape[2]; i++ {
			o.Set(a.Get(k, j, i), j, i)
		}
	}
	return o
}

// realizationSlice copies realization r of a [r, z, y, x] array into a
// [z, y, x] array.
func realizationSlice(a *sparse.DenseArray, r int) *sparse.DenseArray {
	o := sparse.ZerosDense(a.Shape[1], a.Shape[2], a.Shape[3])
	for k := 0; k < a.Shape[1]; k++ {
		for j := 0; j < a.Shape[2]; j++ {
			for i := 0; i < a.Shape[3]; i++ {
				o.Set(a.Get(r, k, j, i), k, j, i)
			}
		}
	}
	return o
}

// setRealization copies a [y, x] array into realization r of a
// [r, y, x] array.
func setRealization(a *sparse.DenseArray, r int, v *sparse.DenseArray) {
	for j := 0; j < v.Shape[0]; j++ {
		for i := 0; i < v.Shape[1]; i++ {
			a.Set(v.Get(j, i), r, j, i)
		}
	}
}

// UnresolvedCount returns the number of NaN elements in a, i.e. the
// points left unresolved after all fallback stages.
func UnresolvedCount(a *sparse.DenseArray) int {
	var n int
	for _, v := range a.Elements {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}
