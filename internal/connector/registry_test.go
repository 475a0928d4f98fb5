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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLoadAndGet(t *testing.T) {
	reg := NewRegistry()
	err := reg.LoadDefinitions([]*Definition{
		{Provider: "mailbox", BaseURL: "http://mail.test"},
		{Provider: "calendar", BaseURL: "http://cal.test"},
		{Provider: "listings", BaseURL: "http://listings.test"},
	})
	require.NoError(t, err)

	conn, err := reg.Get("mailbox")
	require.NoError(t, err)
	assert.Equal(t, "mailbox", conn.Provider())

	def, err := reg.Definition("calendar")
	require.NoError(t, err)
	assert.Equal(t, "http://cal.test", def.BaseURL)

	assert.Equal(t, []string{"calendar", "listings", "mailbox"}, reg.List())
}

func TestRegistryGetUnknownProvider(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("crm")
	require.Error(t, err)
	assert.Equal(t, CodeConnectorNotFound, CodeOf(err))

	_, err = reg.Definition("crm")
	require.Error(t, err)
	assert.Equal(t, CodeConnectorNotFound, CodeOf(err))
}

func TestRegistryLoadUnknownProvider(t *testing.T) {
	reg := NewRegistry()
	err := reg.LoadDefinitions([]*Definition{{Provider: "telegraph"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegraph")
}
