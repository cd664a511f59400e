// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"reflect"
	"sort"
)

// Change is one differing leaf field between two configs.
type Change struct {
	Field string
	Old   string
	New   string
}

// Diff lists changed leaf fields, sorted by path. Secret fields are masked.
func Diff(old, newCfg AppConfig) []Change {
	var out []Change
	diffValue("", reflect.ValueOf(old), reflect.ValueOf(newCfg), &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func diffValue(path string, a, b reflect.Value, out *[]Change) {
	if a.Kind() == reflect.Struct {
		t := a.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("yaml") == "-" {
				continue
			}
			name := f.Name
			if path != "" {
				name = path + "." + name
			}
			diffValue(name, a.Field(i), b.Field(i), out)
		}
		return
	}
	if reflect.DeepEqual(a.Interface(), b.Interface()) {
		return
	}
	c := Change{Field: path, Old: fmt.Sprint(a.Interface()), New: fmt.Sprint(b.Interface())}
	if isSensitiveKey(path) {
		c.Old, c.New = "***", "***"
	}
	*out = append(*out, c)
}
