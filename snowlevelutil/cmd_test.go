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

package snowlevelutil

import (
	"bytes"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/sparse"

	"github.com/spatialforecast/snowlevel"
)

func TestVersionCmd(t *testing.T) {
	buf := new(bytes.Buffer)
	Root.SetOutput(buf)
	Root.SetArgs([]string{"version"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), snowlevel.Version) {
		t.Errorf("output `%s` does not contain the version number", buf.String())
	}
}

// writeTestInput writes a diagnostic data file with two forecast
// realizations of a uniform profile over a 3x3 grid of 1 m orography.
func writeTestInput(t *testing.T, path string) {
	t.Helper()
	wbInt := sparse.ZerosDense(2, 3, 3, 3)
	for r := 0; r < 2; r++ {
		for k, v := range []float64{80, 100, 110} {
			for j := 0; j < 3; j++ {
				for i := 0; i < 3; i++ {
					wbInt.Set(v, r, k, j, i)
				}
			}
		}
	}
	orog := sparse.ZerosDense(3, 3)
	landSea := sparse.ZerosDense(3, 3)
	for i := range orog.Elements {
		orog.Elements[i] = 1
		landSea.Elements[i] = 1
	}
	d := &snowlevel.DiagData{
		Heights:       []float64{5, 10, 20},
		ValidTime:     time.Date(2018, 3, 1, 12, 0, 0, 0, time.UTC),
		ReferenceTime: time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC),
		Realizations:  []int{0, 1},
	}
	d.AddVariable(snowlevel.VarWetBulbIntegral, []string{"realization", "z", "y", "x"},
		"wet-bulb temperature integral", "K m", wbInt)
	d.AddVariable(snowlevel.VarOrography, []string{"y", "x"},
		"surface altitude", "m", orog)
	d.AddVariable(snowlevel.VarLandSeaMask, []string{"y", "x"},
		"land binary mask", "1", landSea)

	w, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := d.Write(w); err != nil {
		t.Fatal(err)
	}
}

func TestRunCmd(t *testing.T) {
	dir, err := ioutil.TempDir("", "snowlevelutil_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	inputFile := filepath.Join(dir, "snowlevel_data.ncf")
	outputFile := filepath.Join(dir, "snowlevel_output.ncf")
	writeTestInput(t, inputFile)

	Root.SetOutput(new(bytes.Buffer))
	Cfg.Set("InputFile", inputFile)
	Cfg.Set("OutputFile", outputFile)
	Cfg.Set("OutputVariables", map[string]string{
		"FallingSnowLevelASL": "FallingSnowLevelASL",
		"FallingSnowLevelAGL": "FallingSnowLevelASL - Orography",
	})
	Root.SetArgs([]string{"run"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}

	r, err := os.Open(outputFile)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	out, err := snowlevel.LoadDiagData(r)
	if err != nil {
		t.Fatal(err)
	}
	// The profile crosses the threshold at 7.5 m above the 1 m
	// orography everywhere.
	checkUniform(t, out, "FallingSnowLevelASL", 8.5)
	checkUniform(t, out, "FallingSnowLevelAGL", 7.5)
	if _, err := os.Stat(filepath.Join(dir, "snowlevel_output.log")); err != nil {
		t.Errorf("log file was not written: %v", err)
	}
}

func checkUniform(t *testing.T, d *snowlevel.DiagData, name string, want float64) {
	t.Helper()
	v, ok := d.Data[name]
	if !ok {
		t.Errorf("output is missing variable %s", name)
		return
	}
	for i, have := range v.Data.Elements {
		if math.Abs(have-want) > 1e-6 {
			t.Errorf("%s element %d: want %g but have %g", name, i, want, have)
		}
	}
}
