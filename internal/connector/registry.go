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
	"sort"
	"sync"
)

// Registry holds the connector variant for each provider key. Definitions
// are loaded once at startup from the catalog; lookups at dispatch time are
// read-only.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	defs       map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		defs:       make(map[string]*Definition),
	}
}

// LoadDefinitions builds and registers a variant for each catalog entry.
// Existing registrations are replaced.
func (r *Registry) LoadDefinitions(defs []*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connectors = make(map[string]Connector)
	r.defs = make(map[string]*Definition)

	for _, def := range defs {
		conn, err := New(def)
		if err != nil {
			return fmt.Errorf("failed to create connector %q: %w", def.Provider, err)
		}
		r.connectors[def.Provider] = conn
		r.defs[def.Provider] = def
	}

	return nil
}

// Register adds a single connector, replacing any existing registration for
// the same provider key.
func (r *Registry) Register(def *Definition, conn Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[def.Provider] = conn
	r.defs[def.Provider] = def
}

// Get retrieves the connector for a provider key.
func (r *Registry) Get(provider string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connectors[provider]
	if !exists {
		return nil, &Error{
			Code:    CodeConnectorNotFound,
			Message: fmt.Sprintf("connector %q not found", provider),
		}
	}

	return conn, nil
}

// Definition retrieves the catalog entry for a provider key.
func (r *Registry) Definition(provider string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.defs[provider]
	if !exists {
		return nil, &Error{
			Code:    CodeConnectorNotFound,
			Message: fmt.Sprintf("connector %q not found", provider),
		}
	}

	return def, nil
}

// List returns the registered provider keys in stable order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// New builds the variant for a catalog entry based on its provider key.
func New(def *Definition) (Connector, error) {
	switch def.Provider {
	case "mailbox":
		return NewMailbox(def), nil
	case "calendar":
		return NewCalendar(def), nil
	case "listings":
		return NewListings(def), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", def.Provider)
	}
}
