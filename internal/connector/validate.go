// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connector

import (
	"fmt"
	"net/mail"
	"time"
)

// paramSpec declares the parameters one action type accepts.
type paramSpec struct {
	required map[string]paramKind
	optional map[string]paramKind
}

// paramKind is the expected type of a parameter value.
type paramKind int

const (
	kindString paramKind = iota
	kindEmail
	kindTime
	kindInt
	kindStringList
)

// validate checks a parameter bag against the spec, accumulating every
// failure rather than stopping at the first.
func (s *paramSpec) validate(params map[string]any) *Validation {
	var errs []string

	for name, kind := range s.required {
		value, ok := params[name]
		if !ok || value == nil {
			errs = append(errs, fmt.Sprintf("missing required parameter %q", name))
			continue
		}
		if msg := checkKind(name, value, kind); msg != "" {
			errs = append(errs, msg)
		}
	}

	for name, kind := range s.optional {
		value, ok := params[name]
		if !ok || value == nil {
			continue
		}
		if msg := checkKind(name, value, kind); msg != "" {
			errs = append(errs, msg)
		}
	}

	for name := range params {
		if _, ok := s.required[name]; ok {
			continue
		}
		if _, ok := s.optional[name]; ok {
			continue
		}
		errs = append(errs, fmt.Sprintf("unknown parameter %q", name))
	}

	if len(errs) > 0 {
		return Invalid(errs...)
	}
	return ValidOK()
}

// checkKind validates a single value against its expected kind.
// Returns an empty string when the value is acceptable.
func checkKind(name string, value any, kind paramKind) string {
	switch kind {
	case kindString:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("parameter %q must be a string", name)
		}
		if s == "" {
			return fmt.Sprintf("parameter %q must not be empty", name)
		}
	case kindEmail:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("parameter %q must be a string", name)
		}
		if _, err := mail.ParseAddress(s); err != nil {
			return fmt.Sprintf("parameter %q is not a valid email address", name)
		}
	case kindTime:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("parameter %q must be an RFC 3339 timestamp", name)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Sprintf("parameter %q is not a valid RFC 3339 timestamp", name)
		}
	case kindInt:
		// JSON numbers decode as float64
		switch v := value.(type) {
		case int:
		case int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Sprintf("parameter %q must be an integer", name)
			}
		default:
			return fmt.Sprintf("parameter %q must be an integer", name)
		}
	case kindStringList:
		list, ok := value.([]any)
		if !ok {
			if _, ok := value.([]string); ok {
				return ""
			}
			return fmt.Sprintf("parameter %q must be a list of strings", name)
		}
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return fmt.Sprintf("parameter %q must contain only strings", name)
			}
		}
	}
	return ""
}

// validateAction resolves an action type against a spec table and runs
// parameter validation. Unknown action types fail validation rather than
// erroring, per the connector contract.
func validateAction(specs map[string]*paramSpec, actionType string, params map[string]any) *Validation {
	spec, ok := specs[actionType]
	if !ok {
		return Invalid(fmt.Sprintf("unsupported action type %q", actionType))
	}
	return spec.validate(params)
}

// actionNames returns the key set of a spec table.
func actionNames(specs map[string]*paramSpec) []string {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	return names
}
