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
	"os"
	"sort"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/ctessum/unit"
)

// DiagDataVersion is the version of the diagnostic data format. It needs
// to be updated whenever a change is made to the format to ensure that
// users update their data files along with the software version.
const DiagDataVersion = "1.2"

// Standard variable names in diagnostic data files.
const (
	VarWetBulbIntegral = "WetBulbIntegral"
	VarOrography       = "Orography"
	VarLandSeaMask     = "LandSeaMask"

	// VarFallingSnowLevel is the name of the calculated falling snow
	// level above sea level.
	VarFallingSnowLevel = "FallingSnowLevelASL"

	// heightVar is the height-level coordinate variable.
	heightVar = "height"
)

// DiagVar is one gridded variable in a diagnostic data file.
type DiagVar struct {
	Dims        []string           // netcdf dimensions for this variable
	Description string             // variable description
	Units       string             // variable units
	Data        *sparse.DenseArray // variable data
}

// DiagData holds the gridded fields that the diagnostic consumes and
// produces, plus the forecast-identity metadata shared among them.
type DiagData struct {
	// Heights are the profile height levels [m above ground],
	// strictly ascending.
	Heights []float64

	ValidTime     time.Time
	ReferenceTime time.Time
	Realizations  []int

	Data map[string]*DiagVar
}

// AddVariable adds data for a new variable to d.
func (d *DiagData) AddVariable(name string, dims []string, description, units string, data *sparse.DenseArray) {
	if d.Data == nil {
		d.Data = make(map[string]*DiagVar)
	}
	d.Data[name] = &DiagVar{
		Dims:        dims,
		Description: description,
		Units:       units,
		Data:        data,
	}
}

// AddField adds the contents of a Field as a new variable, deriving the
// dimension names from the data rank ([y, x] or [realization, y, x]).
func (d *DiagData) AddField(f *Field) error {
	var dims []string
	switch len(f.Data.Shape) {
	case 2:
		dims = []string{"y", "x"}
	case 3:
		dims = []string{"realization", "y", "x"}
	default:
		return fmt.Errorf("snowlevel: variable %s has %d dimensions; expected 2 or 3",
			f.Name, len(f.Data.Shape))
	}
	d.AddVariable(f.Name, dims, f.Description, f.Units, f.Data)
	return nil
}

// Field returns the named variable as a Field carrying d's
// forecast-identity metadata.
func (d *DiagData) Field(name string) (*Field, error) {
	v, ok := d.Data[name]
	if !ok {
		return nil, fmt.Errorf("snowlevel: diagnostic data is missing variable `%s`", name)
	}
	return &Field{
		Name:          name,
		Description:   v.Description,
		Units:         v.Units,
		ValidTime:     d.ValidTime,
		ReferenceTime: d.ReferenceTime,
		Realizations:  d.Realizations,
		Data:          v.Data,
	}, nil
}

// lengthUnits maps the length unit strings supported in data files to
// their SI equivalents.
var lengthUnits = map[string]*unit.Unit{
	"m":  unit.New(1, unit.Meter),
	"km": unit.New(1000, unit.Meter),
	"ft": unit.New(0.3048, unit.Meter),
}

// lengthConv returns the factor that converts values in the given units
// to meters, or an error if the units are not a supported length unit.
func lengthConv(units string) (float64, error) {
	u, ok := lengthUnits[units]
	if !ok {
		return 0, fmt.Errorf("snowlevel: unsupported length units `%s`; "+
			"need one of m, km, or ft", units)
	}
	if err := u.Check(unit.Meter); err != nil {
		return 0, err
	}
	return u.Value(), nil
}

// LoadDiagData loads diagnostic data from a netcdf file. Height levels
// and any variable carrying length units are normalized to meters, and
// the height levels are checked to be strictly ascending.
func LoadDiagData(rw cdf.ReaderWriterAt) (*DiagData, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("snowlevel.LoadDiagData: %v", err)
	}
	o := new(DiagData)

	dataVersion, ok := f.Header.GetAttribute("", "data_version").(string)
	if !ok || dataVersion != DiagDataVersion {
		return nil, fmt.Errorf("snowlevel.LoadDiagData: data version %v is incompatible "+
			"with the required version %s", dataVersion, DiagDataVersion)
	}
	if a, ok := f.Header.GetAttribute("", "valid_time").([]float64); ok && len(a) == 1 {
		o.ValidTime = time.Unix(int64(a[0]), 0).UTC()
	}
	if a, ok := f.Header.GetAttribute("", "reference_time").([]float64); ok && len(a) == 1 {
		o.ReferenceTime = time.Unix(int64(a[0]), 0).UTC()
	}
	if a, ok := f.Header.GetAttribute("", "realization").([]int32); ok {
		o.Realizations = make([]int, len(a))
		for i, r := range a {
			o.Realizations[i] = int(r)
		}
	}

	if err := o.readHeights(f); err != nil {
		return nil, err
	}

	o.Data = make(map[string]*DiagVar)
	for _, v := range f.Header.Variables() {
		if v == heightVar {
			continue
		}
		d := &DiagVar{Dims: f.Header.Dimensions(v)}
		if s, ok := f.Header.GetAttribute(v, "description").(string); ok {
			d.Description = s
		}
		if s, ok := f.Header.GetAttribute(v, "units").(string); ok {
			d.Units = s
		}
		dims := f.Header.Lengths(v)
		d.Data = sparse.ZerosDense(dims...)
		tmp := make([]float32, len(d.Data.Elements))
		r := f.Reader(v, nil, nil)
		if _, err := r.Read(tmp); err != nil {
			return nil, fmt.Errorf("snowlevel.LoadDiagData: reading variable %s: %v", v, err)
		}
		for i, val := range tmp {
			d.Data.Elements[i] = float64(val)
		}
		if conv, err := lengthConv(d.Units); err == nil {
			if conv != 1 {
				d.Data.Scale(conv)
			}
			d.Units = "m"
		}
		o.Data[v] = d
	}
	return o, nil
}

// readHeights reads and checks the height-level coordinate variable.
func (d *DiagData) readHeights(f *cdf.File) error {
	lengths := f.Header.Lengths(heightVar)
	if len(lengths) != 1 {
		return fmt.Errorf("snowlevel.LoadDiagData: missing height coordinate variable `%s`", heightVar)
	}
	h := make([]float64, lengths[0])
	r := f.Reader(heightVar, nil, nil)
	if _, err := r.Read(h); err != nil {
		return fmt.Errorf("snowlevel.LoadDiagData: reading height levels: %v", err)
	}
	units, _ := f.Header.GetAttribute(heightVar, "units").(string)
	conv, err := lengthConv(units)
	if err != nil {
		return fmt.Errorf("snowlevel.LoadDiagData: height levels: %v", err)
	}
	for i := range h {
		h[i] *= conv
	}
	if len(h) < 2 {
		return fmt.Errorf("snowlevel.LoadDiagData: %d height levels; need at least 2", len(h))
	}
	for i := 1; i < len(h); i++ {
		if h[i] <= h[i-1] {
			return fmt.Errorf("snowlevel.LoadDiagData: height levels are not "+
				"strictly ascending at index %d (%g then %g)", i, h[i-1], h[i])
		}
	}
	d.Heights = h
	return nil
}

// dimOrder is the order in which dimensions are declared in output
// files.
var dimOrder = []string{"realization", "z", "y", "x"}

// Write writes d to netcdf file w.
func (d *DiagData) Write(w *os.File) error {
	dimLens := make(map[string]int)
	if d.Heights != nil {
		dimLens["z"] = len(d.Heights)
	}
	names := make([]string, 0, len(d.Data))
	for n, v := range d.Data {
		names = append(names, n)
		if len(v.Dims) != len(v.Data.Shape) {
			return fmt.Errorf("snowlevel: variable %s has %d dimension names but %d dimensions",
				n, len(v.Dims), len(v.Data.Shape))
		}
		for i, dim := range v.Dims {
			if l, ok := dimLens[dim]; ok && l != v.Data.Shape[i] {
				return fmt.Errorf("snowlevel: dimension %s of variable %s has length %d; expected %d",
					dim, n, v.Data.Shape[i], l)
			}
			dimLens[dim] = v.Data.Shape[i]
		}
	}
	sort.Strings(names) // write in the same order every time

	var dims []string
	var lengths []int
	for _, dim := range dimOrder {
		if l, ok := dimLens[dim]; ok {
			dims = append(dims, dim)
			lengths = append(lengths, l)
			delete(dimLens, dim)
		}
	}
	extra := make([]string, 0, len(dimLens))
	for dim := range dimLens {
		extra = append(extra, dim)
	}
	sort.Strings(extra)
	for _, dim := range extra {
		dims = append(dims, dim)
		lengths = append(lengths, dimLens[dim])
	}

	h := cdf.NewHeader(dims, lengths)
	h.AddAttribute("", "comment", "SnowLevel diagnostic data file")
	h.AddAttribute("", "data_version", DiagDataVersion)
	h.AddAttribute("", "valid_time", []float64{float64(d.ValidTime.Unix())})
	h.AddAttribute("", "reference_time", []float64{float64(d.ReferenceTime.Unix())})
	if d.Realizations != nil {
		r := make([]int32, len(d.Realizations))
		for i, v := range d.Realizations {
			r[i] = int32(v)
		}
		h.AddAttribute("", "realization", r)
	}

	if d.Heights != nil {
		h.AddVariable(heightVar, []string{"z"}, []float64{0})
		h.AddAttribute(heightVar, "description", "height above ground of the profile levels")
		h.AddAttribute(heightVar, "units", "m")
	}
	for _, name := range names {
		dd := d.Data[name]
		h.AddVariable(name, dd.Dims, []float32{0})
		h.AddAttribute(name, "description", dd.Description)
		h.AddAttribute(name, "units", dd.Units)
	}
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return err
	}
	if d.Heights != nil {
		end := f.Header.Lengths(heightVar)
		wr := f.Writer(heightVar, make([]int, len(end)), end)
		if _, err := wr.Write(d.Heights); err != nil {
			return fmt.Errorf("snowlevel: writing height levels to netcdf file: %v", err)
		}
	}
	for _, name := range names {
		if err := writeNCF(f, name, d.Data[name].Data); err != nil {
			return fmt.Errorf("snowlevel: writing variable %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

// writeNCF writes data for a variable to a netcdf file.
func writeNCF(f *cdf.File, Var string, data *sparse.DenseArray) error {
	// Check that data matches dimensions.
	n := 1
	for _, v := range data.Shape {
		n *= v
	}
	if len(data.Elements) != n {
		return fmt.Errorf("dims are %d but array length is %d", n, len(data.Elements))
	}
	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(Var)
	start := make([]int, len(end))
	w := f.Writer(Var, start, end)
	_, err := w.Write(data32)
	return err
}
