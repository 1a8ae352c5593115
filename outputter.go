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
	"regexp"
	"sort"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/sparse"
)

// Outputter holds the user-requested output variables and the
// expressions that define how they are calculated from the fields the
// diagnostic produces and consumes.
//
// outputVariables maps the names of the variables for which data should
// be returned to expressions that define how the requested data should
// be calculated. The expressions can use the built-in fields (for
// example FallingSnowLevelASL, Orography, LandSeaMask), previously
// defined output variables, and functions.
type Outputter struct {
	outputVariables map[string]string
	outputFunctions map[string]govaluate.ExpressionFunction
}

// NewOutputter initializes a new Outputter holder and adds a set of
// default output functions. Default functions include:
//
// 'exp(x)' which applies the exponential function e^x.
//
// 'min(x, y)' and 'max(x, y)' which take the smaller or larger of two
// values.
//
// 'abs(x)' which takes the absolute value.
func NewOutputter(outputVariables map[string]string, outputFunctions map[string]govaluate.ExpressionFunction) (*Outputter, error) {
	defaultOutputFuncs := map[string]govaluate.ExpressionFunction{
		"exp": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("snowlevel: got %d arguments for function 'exp', but needs 1", len(arg))
			}
			return math.Exp(arg[0].(float64)), nil
		},
		"abs": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("snowlevel: got %d arguments for function 'abs', but needs 1", len(arg))
			}
			return math.Abs(arg[0].(float64)), nil
		},
		"min": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 2 {
				return nil, fmt.Errorf("snowlevel: got %d arguments for function 'min', but needs 2", len(arg))
			}
			return math.Min(arg[0].(float64), arg[1].(float64)), nil
		},
		"max": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 2 {
				return nil, fmt.Errorf("snowlevel: got %d arguments for function 'max', but needs 2", len(arg))
			}
			return math.Max(arg[0].(float64), arg[1].(float64)), nil
		},
	}
	for key, val := range outputFunctions {
		defaultOutputFuncs[key] = val
	}
	o := &Outputter{
		outputVariables: outputVariables,
		outputFunctions: defaultOutputFuncs,
	}
	if err := checkOutputNames(o.outputVariables); err != nil {
		return nil, err
	}
	return o, nil
}

// checkOutputNames checks if any output variable names include
// characters that are unsupported in netcdf variable names.
func checkOutputNames(o map[string]string) error {
	for key := range o {
		ok, err := regexp.MatchString("^[A-Za-z]\\w*$", key)
		if err != nil {
			panic(err)
		}
		if !ok {
			return fmt.Errorf("snowlevel: output variable name '%s' includes unsupported characters", key)
		}
	}
	return nil
}

// Output evaluates the output variable expressions over the given
// fields, returning one derived field per requested output variable.
// Expressions are evaluated element-by-element; a field dimensioned
// [y, x] referenced together with one dimensioned [realization, y, x]
// is broadcast across realizations. Output variables are evaluated in
// name order, and each becomes available to the expressions evaluated
// after it.
func (o *Outputter) Output(fields ...*Field) ([]*Field, error) {
	pool := make(map[string]*Field)
	for _, f := range fields {
		pool[f.Name] = f
	}

	names := make([]string, 0, len(o.outputVariables))
	for n := range o.outputVariables {
		names = append(names, n)
	}
	sort.Strings(names)

	var out []*Field
	for _, name := range names {
		f, err := o.evalVariable(name, o.outputVariables[name], pool)
		if err != nil {
			return nil, err
		}
		pool[name] = f
		out = append(out, f)
	}
	return out, nil
}

// evalVariable evaluates one output variable expression over the fields
// in pool.
func (o *Outputter) evalVariable(name, exprStr string, pool map[string]*Field) (*Field, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, o.outputFunctions)
	if err != nil {
		return nil, fmt.Errorf("snowlevel: output variable %s: %v", name, err)
	}
	vars := removeDuplicates(expr.Vars())
	if len(vars) == 0 {
		return nil, fmt.Errorf("snowlevel: output variable %s references no fields", name)
	}

	// The result takes the shape of the highest-rank referenced field;
	// lower-rank fields broadcast across the leading realization
	// dimension.
	var template *Field
	refs := make([]*Field, len(vars))
	for i, v := range vars {
		f, ok := pool[v]
		if !ok {
			return nil, fmt.Errorf("snowlevel: output variable %s: undefined variable name '%s'", name, v)
		}
		refs[i] = f
		if template == nil || len(f.Data.Shape) > len(template.Data.Shape) {
			template = f
		}
	}
	units := refs[0].Units
	for _, f := range refs[1:] {
		if f.Units != units {
			units = ""
			break
		}
	}

	result := sparse.ZerosDense(template.Data.Shape...)
	params := make(map[string]interface{}, len(vars))
	for i := range result.Elements {
		idx := result.IndexNd(i)
		for j, v := range vars {
			params[v] = broadcastGet(refs[j].Data, idx)
		}
		val, err := expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("snowlevel: output variable %s: %v", name, err)
		}
		fval, ok := val.(float64)
		if !ok {
			return nil, fmt.Errorf("snowlevel: output variable %s: expression result is %T, not a number", name, val)
		}
		result.Elements[i] = fval
	}
	return template.copyMeta(name, exprStr, units, result), nil
}

// broadcastGet returns the element of a corresponding to index idx of
// the result array, ignoring leading index dimensions that a does not
// have.
func broadcastGet(a *sparse.DenseArray, idx []int) float64 {
	if skip := len(idx) - len(a.Shape); skip > 0 {
		return a.Get(idx[skip:]...)
	}
	return a.Get(idx...)
}

// removeDuplicates removes all duplicated strings from a slice,
// returning a slice that contains only unique strings.
func removeDuplicates(s []string) []string {
	result := make([]string, 0, len(s))
	seen := make(map[string]string)
	for _, val := range s {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = val
		}
	}
	return result
}
