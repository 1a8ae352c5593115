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
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lnashier/viper"
)

func TestCheckLogFile(t *testing.T) {
	if f := checkLogFile("custom.log", "out.ncf"); f != "custom.log" {
		t.Errorf("want custom.log but have %s", f)
	}
	if f := checkLogFile("", "dir/out.ncf"); f != "dir/out.log" {
		t.Errorf("want dir/out.log but have %s", f)
	}
}

func TestCheckOutputFile(t *testing.T) {
	if _, err := checkOutputFile(""); err == nil {
		t.Error("expected an error for an empty output file")
	}
	if _, err := checkOutputFile(filepath.Join("nonexistent_dir", "out.ncf")); err == nil {
		t.Error("expected an error for a missing output directory")
	}
	f, err := checkOutputFile("out.ncf")
	if err != nil {
		t.Fatal(err)
	}
	if f != "out.ncf" {
		t.Errorf("want out.ncf but have %s", f)
	}
}

func TestCheckOutputVars(t *testing.T) {
	if _, err := checkOutputVars(nil); err == nil {
		t.Error("expected an error for empty output variables")
	}
	os.Setenv("SNOWLEVEL_TEST_VAR", "Orography")
	vars, err := checkOutputVars(map[string]string{
		"a": "x -\ny",
		"b": "${SNOWLEVEL_TEST_VAR}",
	})
	if err != nil {
		t.Fatal(err)
	}
	if vars["a"] != "x - y" {
		t.Errorf("line endings: want `x - y` but have `%s`", vars["a"])
	}
	if vars["b"] != "Orography" {
		t.Errorf("environment expansion: want Orography but have %s", vars["b"])
	}
}

func TestGetStringMapString(t *testing.T) {
	want := map[string]string{"a": "x", "b": "y"}

	cfg := viper.New()
	cfg.Set("v", map[string]string{"a": "x", "b": "y"})
	if have := GetStringMapString("v", cfg); !reflect.DeepEqual(have, want) {
		t.Errorf("map: want %v but have %v", want, have)
	}

	cfg = viper.New()
	cfg.Set("v", map[string]interface{}{"a": "x", "b": "y"})
	if have := GetStringMapString("v", cfg); !reflect.DeepEqual(have, want) {
		t.Errorf("interface map: want %v but have %v", want, have)
	}

	// Set from a command-line argument the value is a json string.
	cfg = viper.New()
	cfg.Set("v", `{"a": "x", "b": "y"}`)
	if have := GetStringMapString("v", cfg); !reflect.DeepEqual(have, want) {
		t.Errorf("json: want %v but have %v", want, have)
	}
}
