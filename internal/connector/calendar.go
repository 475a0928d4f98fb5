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

// NewCalendar creates the calendar provider variant.
//
// Action surface: create_event, update_event, list_events.
func NewCalendar(def *Definition) Connector {
	specs := map[string]*paramSpec{
		"create_event": {
			required: map[string]paramKind{
				"title": kindString,
				"start": kindTime,
				"end":   kindTime,
			},
			optional: map[string]paramKind{
				"attendees":   kindStringList,
				"location":    kindString,
				"description": kindString,
			},
		},
		"update_event": {
			required: map[string]paramKind{
				"event_id": kindString,
			},
			optional: map[string]paramKind{
				"title":    kindString,
				"start":    kindTime,
				"end":      kindTime,
				"location": kindString,
			},
		},
		"list_events": {
			required: map[string]paramKind{},
			optional: map[string]paramKind{
				"time_min":    kindTime,
				"time_max":    kindTime,
				"max_results": kindInt,
			},
		},
	}

	routes := map[string]route{
		"create_event": func(params map[string]any) (string, string, map[string]any) {
			return "POST", "/events", params
		},
		"update_event": func(params map[string]any) (string, string, map[string]any) {
			eventID, _ := params["event_id"].(string)
			body := make(map[string]any, len(params))
			for k, v := range params {
				if k != "event_id" {
					body[k] = v
				}
			}
			return "PATCH", "/events/" + url.PathEscape(eventID), body
		},
		"list_events": func(params map[string]any) (string, string, map[string]any) {
			q := url.Values{}
			for _, key := range []string{"time_min", "time_max", "max_results"} {
				if v, ok := params[key]; ok {
					q.Set(key, fmt.Sprintf("%v", v))
				}
			}
			path := "/events"
			if encoded := q.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return "GET", path, nil
		},
	}

	return newRESTConnector(def, specs, routes)
}
