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
	"net/url"
)

// NewListings creates the listing-feed provider variant.
//
// Listing feeds authenticate with long-lived API tokens rather than OAuth,
// so the default freshness check applies and there is no refresh flow.
//
// Action surface: search_listings, get_listing.
func NewListings(def *Definition) Connector {
	specs := map[string]*paramSpec{
		"search_listings": {
			required: map[string]paramKind{
				"city": kindString,
			},
			optional: map[string]paramKind{
				"min_price": kindInt,
				"max_price": kindInt,
				"bedrooms":  kindInt,
				"limit":     kindInt,
			},
		},
		"get_listing": {
			required: map[string]paramKind{
				"listing_id": kindString,
			},
		},
	}

	routes := map[string]route{
		"search_listings": func(params map[string]any) (string, string, map[string]any) {
			q := url.Values{}
			for key, value := range params {
				q.Set(key, fmt.Sprintf("%v", value))
			}
			return "GET", "/listings?" + q.Encode(), nil
		},
		"get_listing": func(params map[string]any) (string, string, map[string]any) {
			listingID, _ := params["listing_id"].(string)
			return "GET", "/listings/" + url.PathEscape(listingID), nil
		},
	}

	return newRESTConnector(def, specs, routes)
}
