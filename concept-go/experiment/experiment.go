// Package experiment loads YAML experiment configs, expands hyperparameter
// grids, and resolves embedded arithmetic expressions.
package experiment

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	yaml "gopkg.in/yaml.v2"

	"github.com/conceptlab/conceptlab/concept-golib/errors"
)

// Config is a loosely-typed experiment config tree.
type Config = map[string]interface{}

// LoadConfig reads a YAML config into a map tree with string keys at every
// level.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	normalized, _ := normalize(tree).(Config)
	return normalized, nil
}

// normalize rewrites the interface-keyed maps yaml produces into string-keyed
// ones.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(Config, len(t))
		for key, val := range t {
			out[fmt.Sprintf("%v", key)] = normalize(val)
		}
		return out
	case map[string]interface{}:
		out := make(Config, len(t))
		for key, val := range t {
			out[key] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	}
	return v
}

// GridConfigs expands a config into one config per hyperparameter setting.
// The fields named in grid_variables must exist and hold lists of candidate
// values; grid_search_mode picks exhaustive (the default, a full cartesian
// product) or paired (positional zip, stopping at the shortest list). A
// config without grid_variables expands to itself.
func GridConfigs(cfg Config) ([]Config, error) {
	rawVars, ok := cfg["grid_variables"]
	if !ok {
		return []Config{cfg}, nil
	}
	varList, ok := rawVars.([]interface{})
	if !ok {
		return nil, errors.Errorf("grid_variables must be a list of field names, got %v", rawVars)
	}

	var names []string
	var options [][]interface{}
	for _, rawName := range varList {
		name, ok := rawName.(string)
		if !ok {
			return nil, errors.Errorf("grid variable name %v is not a string", rawName)
		}
		val, ok := cfg[name]
		if !ok {
			return nil, errors.Errorf(
				"all grid variables must be existing config fields, but there is no field %q", name)
		}
		opts, ok := val.([]interface{})
		if !ok {
			return nil, errors.Errorf(
				"grid variable %q must hold a list of values, got %v", name, val)
		}
		names = append(names, name)
		options = append(options, opts)
	}

	mode := "exhaustive"
	if raw, ok := cfg["grid_search_mode"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, errors.Errorf("grid_search_mode %v is not a string", raw)
		}
		mode = strings.ToLower(strings.TrimSpace(s))
	}

	var combos [][]interface{}
	switch mode {
	case "grid", "exhaustive":
		combos = [][]interface{}{nil}
		for _, opts := range options {
			var next [][]interface{}
			for _, combo := range combos {
				for _, opt := range opts {
					grown := append(append([]interface{}{}, combo...), opt)
					next = append(next, grown)
				}
			}
			combos = next
		}
	case "paired":
		n := -1
		for _, opts := range options {
			if n < 0 || len(opts) < n {
				n = len(opts)
			}
		}
		for i := 0; i < n; i++ {
			combo := make([]interface{}, len(options))
			for j, opts := range options {
				combo[j] = opts[i]
			}
			combos = append(combos, combo)
		}
	default:
		return nil, errors.Errorf(
			`grid_search_mode must be "paired" or "exhaustive", got %q`, mode)
	}

	out := make([]Config, 0, len(combos))
	for _, combo := range combos {
		current, _ := copyTree(cfg).(Config)
		for i, name := range names {
			current[name] = combo[i]
		}
		out = append(out, current)
	}
	return out, nil
}

func copyTree(v interface{}) interface{} {
	switch t := v.(type) {
	case Config:
		out := make(Config, len(t))
		for key, val := range t {
			out[key] = copyTree(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = copyTree(val)
		}
		return out
	}
	return v
}

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

// EvaluateExpressions resolves string values in place, recursing into nested
// maps. A value wrapped in {{ }} has its {field} placeholders substituted
// from the top-level config and is then evaluated as a Go constant
// expression; with soft set, a failed expression keeps its substituted text
// instead of erroring. Plain strings get placeholder substitution only, and
// substitution failures always propagate.
func EvaluateExpressions(cfg Config, soft bool) error {
	return evaluate(cfg, cfg, soft)
}

func evaluate(cfg, parent Config, soft bool) error {
	for key, val := range cfg {
		switch v := val.(type) {
		case string:
			if len(v) >= 4 && strings.HasPrefix(v, "{{") && strings.HasSuffix(v, "}}") {
				substituted, err := substitute(v[2:len(v)-2], parent)
				if err != nil {
					if soft {
						continue
					}
					return err
				}
				cfg[key] = substituted
				result, err := evalConst(substituted)
				if err != nil {
					if soft {
						continue
					}
					return err
				}
				cfg[key] = result
			} else {
				substituted, err := substitute(v, parent)
				if err != nil {
					return err
				}
				cfg[key] = substituted
			}
		case Config:
			if err := evaluate(v, parent, soft); err != nil {
				return err
			}
		}
	}
	return nil
}

// substitute replaces {field} placeholders with the field's value from the
// top-level config.
func substitute(s string, parent Config) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		val, ok := parent[name]
		if !ok {
			if firstErr == nil {
				firstErr = errors.Errorf("no config field %q to substitute", name)
			}
			return match
		}
		return fmt.Sprintf("%v", val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// evalConst evaluates a Go constant expression, so arithmetic follows Go's
// untyped-constant rules.
func evalConst(expr string) (interface{}, error) {
	tv, err := types.Eval(token.NewFileSet(), nil, token.NoPos, expr)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluating %q", expr)
	}
	if tv.Value == nil {
		return nil, errors.Errorf("%q is not a constant expression", expr)
	}
	switch tv.Value.Kind() {
	case constant.Int:
		if n, exact := constant.Int64Val(tv.Value); exact {
			return int(n), nil
		}
		f, _ := constant.Float64Val(tv.Value)
		return f, nil
	case constant.Float:
		f, _ := constant.Float64Val(tv.Value)
		return f, nil
	case constant.Bool:
		return constant.BoolVal(tv.Value), nil
	case constant.String:
		return constant.StringVal(tv.Value), nil
	}
	return nil, errors.Errorf("unsupported constant kind in %q", expr)
}
