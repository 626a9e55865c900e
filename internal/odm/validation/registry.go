// Package validation runs named predicate functions against property values.
// Predicates are registered by name and invoked in declaration order; the
// engine fails fast on the first violation.
package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"unicode/utf8"
)

// Func is a named validation predicate: true means the value passes.
// args are the raw annotation arguments captured at extraction time.
type Func func(value any, args []string) bool

// FuncRegistry holds named predicates. The zero value is not usable; use
// NewFuncRegistry, which installs the built-in predicates.
type FuncRegistry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewFuncRegistry creates a registry pre-populated with built-ins.
func NewFuncRegistry() *FuncRegistry {
	r := &FuncRegistry{funcs: make(map[string]Func)}
	for name, fn := range builtins {
		r.funcs[name] = fn
	}
	return r
}

// Register adds or replaces a named predicate.
func (r *FuncRegistry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup returns the predicate registered under name.
func (r *FuncRegistry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

var builtins = map[string]Func{
	"email": func(value any, _ []string) bool {
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, err := mail.ParseAddress(s)
		return err == nil
	},
	"url": func(value any, _ []string) bool {
		s, ok := value.(string)
		if !ok {
			return false
		}
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	},
	"min": func(value any, args []string) bool {
		if len(args) != 1 {
			return false
		}
		f, ok := toFloat64(value)
		if !ok {
			return false
		}
		bound, err := strconv.ParseFloat(args[0], 64)
		return err == nil && f >= bound
	},
	"max": func(value any, args []string) bool {
		if len(args) != 1 {
			return false
		}
		f, ok := toFloat64(value)
		if !ok {
			return false
		}
		bound, err := strconv.ParseFloat(args[0], 64)
		return err == nil && f <= bound
	},
	"minLength": func(value any, args []string) bool {
		s, ok := value.(string)
		if !ok || len(args) != 1 {
			return false
		}
		n, err := strconv.Atoi(args[0])
		return err == nil && utf8.RuneCountInString(s) >= n
	},
	"maxLength": func(value any, args []string) bool {
		s, ok := value.(string)
		if !ok || len(args) != 1 {
			return false
		}
		n, err := strconv.Atoi(args[0])
		return err == nil && utf8.RuneCountInString(s) <= n
	},
	"pattern": func(value any, args []string) bool {
		s, ok := value.(string)
		if !ok || len(args) != 1 {
			return false
		}
		re, err := regexp.Compile(args[0])
		return err == nil && re.MatchString(s)
	},
	"in": func(value any, args []string) bool {
		s := fmt.Sprintf("%v", value)
		for _, a := range args {
			if s == a {
				return true
			}
		}
		return false
	},
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
