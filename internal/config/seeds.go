package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSeeds parses placeholder seed specs for gap filling.
// Format: ["group:field1=val1,field2=val2", ...] where group is the group
// value, or comma-joined values for compound group columns.
// Values parse as int64, float64 or bool when they look like one, else string.
func ParseSeeds(specs []string) (map[string]map[string]interface{}, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	seeds := make(map[string]map[string]interface{})

	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid seed format: %s (expected 'group:field=value,...')", spec)
		}

		group := strings.TrimSpace(parts[0])
		if group == "" {
			return nil, fmt.Errorf("empty group in seed: %s", spec)
		}

		pairs := strings.Split(parts[1], ",")
		values := make(map[string]interface{}, len(pairs))
		for _, pair := range pairs {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				return nil, fmt.Errorf("empty field assignment in seed: %s", spec)
			}
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				return nil, fmt.Errorf("invalid field assignment %q in seed: %s", pair, spec)
			}
			field := strings.TrimSpace(kv[0])
			if field == "" {
				return nil, fmt.Errorf("empty field name in seed: %s", spec)
			}
			values[field] = parseSeedValue(strings.TrimSpace(kv[1]))
		}

		if len(values) == 0 {
			return nil, fmt.Errorf("no field assignments for group %s", group)
		}

		seeds[group] = values
	}

	return seeds, nil
}

// parseSeedValue guesses the type the way line protocol would: integers
// first so "0" stays an int, booleans only for the literal words.
func parseSeedValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
