/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package mesh

import (
	"fmt"
	"math"
	"sync"

	"github.com/Knetic/govaluate"
	"github.com/eclesh/welford"
)

// UncertaintyHelp documents the uncertainty_expr formula language.
const UncertaintyHelp = `When composing the uncertainty formula, here is what you can do:
supported variables:
  rtt (list of last round-trip times to peers, in seconds)
supported functions:
  abs(value) - absolute value of a single float64
  mean(values, number) - mean over the last 'number' values
  variance(values, number) - variance over the last 'number' values
  stddev(values, number) - standard deviation over the last 'number' values
example:
  "0.005 + 2.0 * stddev(rtt, 50)"`

// uncertaintyHistory is how many RTT samples feed the formula.
const uncertaintyHistory = 100

// uncertainty computes the half-width of the bounded-time interval.
// With no formula configured it returns the constant default; with a
// formula it widens with observed peer RTT spread, floored at the
// constant so the interval never claims more confidence than the
// constant default does.
type uncertainty struct {
	mu       sync.Mutex
	constant float64
	expr     *govaluate.EvaluableExpression
	rtts     []float64
}

func newUncertainty(constant float64, formula string) (*uncertainty, error) {
	u := &uncertainty{constant: constant}
	if formula == "" {
		return u, nil
	}
	expr, err := prepareExpression(formula)
	if err != nil {
		return nil, fmt.Errorf("preparing uncertainty formula: %w", err)
	}
	u.expr = expr
	return u, nil
}

// addRTT records an observed round-trip time in seconds.
func (u *uncertainty) addRTT(rtt float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rtts = append(u.rtts, rtt)
	if len(u.rtts) > uncertaintyHistory {
		u.rtts = u.rtts[len(u.rtts)-uncertaintyHistory:]
	}
}

// window returns the current half-width in seconds.
func (u *uncertainty) window() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.expr == nil || len(u.rtts) == 0 {
		return u.constant
	}
	params := map[string]interface{}{"rtt": u.rtts}
	result, err := u.expr.Evaluate(params)
	if err != nil {
		return u.constant
	}
	w, ok := result.(float64)
	if !ok || math.IsNaN(w) || w < u.constant {
		return u.constant
	}
	return w
}

func prepareExpression(formula string) (*govaluate.EvaluableExpression, error) {
	functions := map[string]govaluate.ExpressionFunction{
		"abs": func(args ...interface{}) (interface{}, error) {
			v, err := oneFloat("abs", args)
			if err != nil {
				return nil, err
			}
			return math.Abs(v), nil
		},
		"mean": func(args ...interface{}) (interface{}, error) {
			values, err := floatsAndCount("mean", args)
			if err != nil {
				return nil, err
			}
			return mean(values), nil
		},
		"variance": func(args ...interface{}) (interface{}, error) {
			values, err := floatsAndCount("variance", args)
			if err != nil {
				return nil, err
			}
			return variance(values), nil
		},
		"stddev": func(args ...interface{}) (interface{}, error) {
			values, err := floatsAndCount("stddev", args)
			if err != nil {
				return nil, err
			}
			return stddev(values), nil
		},
	}
	return govaluate.NewEvaluableExpressionWithFunctions(formula, functions)
}

func oneFloat(name string, args []interface{}) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s wants 1 argument, got %d", name, len(args))
	}
	v, ok := args[0].(float64)
	if !ok {
		return 0, fmt.Errorf("%s wants a number, got %T", name, args[0])
	}
	return v, nil
}

// floatsAndCount unpacks the (values, number) argument convention and
// returns the last 'number' values.
func floatsAndCount(name string, args []interface{}) ([]float64, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s wants 2 arguments, got %d", name, len(args))
	}
	values, ok := args[0].([]float64)
	if !ok {
		return nil, fmt.Errorf("%s wants a list of numbers, got %T", name, args[0])
	}
	count, ok := args[1].(float64)
	if !ok {
		return nil, fmt.Errorf("%s wants a count, got %T", name, args[1])
	}
	n := int(count)
	if n < len(values) {
		values = values[len(values)-n:]
	}
	return values, nil
}

func mean(input []float64) float64 {
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Mean()
}

func variance(input []float64) float64 {
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Variance()
}

func stddev(input []float64) float64 {
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Stddev()
}
