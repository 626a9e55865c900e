package introspect

import (
	"fmt"
	"strings"
)

// Annotation is one parsed tag entry: a name plus positional arguments.
// `field=username` parses to {field [username]}; `unique(desc,sparse)` to
// {unique [desc sparse]}; `validate=minLength(3)` to {validate [minLength 3]}.
type Annotation struct {
	Name string
	Args []string
}

// ParseTag parses the value of an odm struct tag into annotations.
//
// The grammar is a comma-separated list of entries. An entry is one of:
//
//	name
//	name=value
//	name(arg, arg, ...)
//	name=predicate(arg, ...)
//
// Commas inside parentheses do not split entries. The validate entry accepts
// several predicates separated by semicolons and yields one annotation per
// predicate.
func ParseTag(tag string) ([]Annotation, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, nil
	}

	var out []Annotation
	for _, entry := range splitTop(tag, ',') {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parsed, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed...)
	}
	return out, nil
}

func parseEntry(entry string) ([]Annotation, error) {
	name := entry
	rest := ""

	if i := strings.IndexAny(entry, "=("); i >= 0 {
		name = entry[:i]
		rest = entry[i:]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("empty annotation name in %q", entry)
	}

	switch {
	case rest == "":
		return []Annotation{{Name: name}}, nil

	case rest[0] == '(':
		args, err := parseArgList(rest)
		if err != nil {
			return nil, fmt.Errorf("annotation %s: %w", name, err)
		}
		return []Annotation{{Name: name, Args: args}}, nil

	default: // '='
		value := strings.TrimSpace(rest[1:])
		if value == "" {
			return nil, fmt.Errorf("annotation %s: missing value", name)
		}
		if name == "validate" {
			return parseValidateValue(value)
		}
		return []Annotation{{Name: name, Args: []string{value}}}, nil
	}
}

// parseValidateValue expands `minLength(3);pattern(^a.*$)` into one validate
// annotation per predicate, with the predicate name as the first argument.
func parseValidateValue(value string) ([]Annotation, error) {
	var out []Annotation
	for _, pred := range splitTop(value, ';') {
		pred = strings.TrimSpace(pred)
		if pred == "" {
			continue
		}
		name := pred
		args := []string(nil)
		if i := strings.IndexByte(pred, '('); i >= 0 {
			var err error
			args, err = parseArgList(pred[i:])
			if err != nil {
				return nil, fmt.Errorf("validate %s: %w", pred[:i], err)
			}
			name = pred[:i]
		}
		if name == "" {
			return nil, fmt.Errorf("validate: missing predicate name in %q", pred)
		}
		out = append(out, Annotation{Name: "validate", Args: append([]string{name}, args...)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("validate: empty predicate list")
	}
	return out, nil
}

// parseArgList parses "(a, b, c)" into its trimmed elements.
func parseArgList(s string) ([]string, error) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("malformed argument list %q", s)
	}
	inner := s[1 : len(s)-1]
	if strings.TrimSpace(inner) == "" {
		return nil, nil
	}
	var args []string
	for _, a := range splitTop(inner, ',') {
		args = append(args, strings.TrimSpace(a))
	}
	return args, nil
}

// splitTop splits s on sep at parenthesis depth zero.
func splitTop(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
