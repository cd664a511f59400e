// SPDX-License-Identifier: MIT

package config

import (
	"reflect"
	"strings"
	"time"
)

// sensitiveKeywords mark keys whose values are replaced wholesale.
var sensitiveKeywords = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"api_key",
	"credential",
	"auth",
}

const masked = "***"

var durationType = reflect.TypeOf(time.Duration(0))

// MaskSecrets returns a printable copy of data with secrets removed.
//
// Structs become maps keyed by their yaml tag (falling back to the Go field
// name); fields tagged `yaml:"-"` are dropped so a dump reads like a config
// file. Values under sensitive keys become "***", URL userinfo is stripped
// from every string and durations render in time.Duration notation.
func MaskSecrets(data any) any {
	if data == nil {
		return nil
	}
	return maskValue(reflect.ValueOf(data))
}

func maskValue(val reflect.Value) any {
	for val.Kind() == reflect.Ptr || val.Kind() == reflect.Interface {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}

	if val.Type() == durationType {
		return time.Duration(val.Int()).String()
	}

	switch val.Kind() {
	case reflect.String:
		return MaskURL(val.String())

	case reflect.Map:
		result := make(map[string]any, val.Len())
		iter := val.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			if isSensitiveKey(key) {
				result[key] = masked
				continue
			}
			result[key] = maskValue(iter.Value())
		}
		return result

	case reflect.Slice, reflect.Array:
		result := make([]any, val.Len())
		for i := range result {
			result[i] = maskValue(val.Index(i))
		}
		return result

	case reflect.Struct:
		result := make(map[string]any)
		typ := val.Type()
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			key, skip := fieldKey(field)
			if skip {
				continue
			}
			if isSensitiveKey(key) {
				result[key] = masked
				continue
			}
			result[key] = maskValue(val.Field(i))
		}
		return result

	default:
		return val.Interface()
	}
}

func fieldKey(field reflect.StructField) (string, bool) {
	tag, ok := field.Tag.Lookup("yaml")
	if !ok {
		return field.Name, false
	}
	name, _, _ := strings.Cut(tag, ",")
	switch name {
	case "-":
		return "", true
	case "":
		return field.Name, false
	}
	return name, false
}

// isSensitiveKey checks if a key name contains any sensitive keyword.
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return true
		}
	}
	return false
}

// MaskURL replaces the userinfo of an absolute URL with "***".
// Strings that are not URLs with credentials come back unchanged.
func MaskURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	authority := rest
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		authority = rest[:end]
	}
	at := strings.LastIndex(authority, "@")
	if at < 0 {
		return raw
	}
	return scheme + "://" + masked + rest[at:]
}
