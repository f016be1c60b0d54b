// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package cfgstruct registers pflag flags for every field of a
// configuration struct, using `help:` and `default:` struct tags.
package cfgstruct

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// BindOpt modifies how Bind interprets struct tags.
type BindOpt func(*bindConfig)

type bindConfig struct {
	confDir string
	useDev  bool
}

// ConfDir sets the value that replaces the $CONFDIR placeholder in
// default tags.
func ConfDir(dir string) BindOpt {
	return func(cfg *bindConfig) { cfg.confDir = dir }
}

// UseDevDefaults prefers `devDefault:` tags over `releaseDefault:` tags.
func UseDevDefaults() BindOpt {
	return func(cfg *bindConfig) { cfg.useDev = true }
}

// Bind sets flags on a FlagSet that match the configuration struct, so
// that parsing the flags writes directly into the struct fields. Flag
// names are the lower-cased dotted field path, e.g. Server.Address
// becomes server.address.
func Bind(flags *pflag.FlagSet, config interface{}, opts ...BindOpt) {
	bc := bindConfig{}
	for _, opt := range opts {
		opt(&bc)
	}

	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("cfgstruct: expected pointer to struct, got %T", config))
	}
	bindStruct(flags, ptr.Elem(), "", bc)
}

func bindStruct(flags *pflag.FlagSet, val reflect.Value, prefix string, bc bindConfig) {
	typ := val.Type()
	if typ.Kind() != reflect.Struct {
		panic(fmt.Sprintf("cfgstruct: expected struct, got %s", typ))
	}

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		value := val.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}

		name := prefix + strings.ToLower(field.Name[:1]) + field.Name[1:]
		if field.Anonymous {
			name = prefix
			if name != "" {
				name = strings.TrimSuffix(name, ".")
			}
		}

		if value.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			childPrefix := name
			if childPrefix != "" {
				childPrefix += "."
			}
			bindStruct(flags, value, childPrefix, bc)
			continue
		}

		help := field.Tag.Get("help")
		def := defaultTag(field, bc)
		def = strings.ReplaceAll(def, "$CONFDIR", bc.confDir)

		bindField(flags, value, field, name, def, help)
	}
}

func defaultTag(field reflect.StructField, bc bindConfig) string {
	if def, ok := field.Tag.Lookup("default"); ok {
		return def
	}
	if bc.useDev {
		if def, ok := field.Tag.Lookup("devDefault"); ok {
			return def
		}
	}
	if def, ok := field.Tag.Lookup("releaseDefault"); ok {
		return def
	}
	if !bc.useDev {
		if def, ok := field.Tag.Lookup("devDefault"); ok {
			return def
		}
	}
	return ""
}

func bindField(flags *pflag.FlagSet, value reflect.Value, field reflect.StructField, name, def, help string) {
	addr := value.Addr().Interface()

	switch typed := addr.(type) {
	case *string:
		flags.StringVar(typed, name, def, help)
	case *bool:
		flags.BoolVar(typed, name, mustParseBool(name, def), help)
	case *int:
		flags.IntVar(typed, name, int(mustParseInt(name, def)), help)
	case *int64:
		flags.Int64Var(typed, name, mustParseInt(name, def), help)
	case *uint:
		flags.UintVar(typed, name, uint(mustParseUint(name, def)), help)
	case *uint64:
		flags.Uint64Var(typed, name, mustParseUint(name, def), help)
	case *float64:
		flags.Float64Var(typed, name, mustParseFloat(name, def), help)
	case *time.Duration:
		flags.DurationVar(typed, name, mustParseDuration(name, def), help)
	case *[]string:
		var defs []string
		if def != "" {
			defs = strings.Split(def, ",")
		}
		flags.StringSliceVar(typed, name, defs, help)
	default:
		panic(fmt.Sprintf("cfgstruct: unsupported field type %s for %q", field.Type, name))
	}
}

func mustParseBool(name, def string) bool {
	if def == "" {
		return false
	}
	v, err := strconv.ParseBool(def)
	if err != nil {
		panic(fmt.Sprintf("cfgstruct: invalid bool default for %q: %q", name, def))
	}
	return v
}

func mustParseInt(name, def string) int64 {
	if def == "" {
		return 0
	}
	v, err := strconv.ParseInt(def, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("cfgstruct: invalid int default for %q: %q", name, def))
	}
	return v
}

func mustParseUint(name, def string) uint64 {
	if def == "" {
		return 0
	}
	v, err := strconv.ParseUint(def, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("cfgstruct: invalid uint default for %q: %q", name, def))
	}
	return v
}

func mustParseFloat(name, def string) float64 {
	if def == "" {
		return 0
	}
	v, err := strconv.ParseFloat(def, 64)
	if err != nil {
		panic(fmt.Sprintf("cfgstruct: invalid float default for %q: %q", name, def))
	}
	return v
}

func mustParseDuration(name, def string) time.Duration {
	if def == "" {
		return 0
	}
	v, err := time.ParseDuration(def)
	if err != nil {
		panic(fmt.Sprintf("cfgstruct: invalid duration default for %q: %q", name, def))
	}
	return v
}
