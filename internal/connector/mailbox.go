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

// NewMailbox creates the mailbox provider variant.
//
// Action surface: send_email, create_draft, list_messages.
func NewMailbox(def *Definition) Connector {
	specs := map[string]*paramSpec{
		"send_email": {
			required: map[string]paramKind{
				"to":      kindEmail,
				"subject": kindString,
				"body":    kindString,
			},
			optional: map[string]paramKind{
				"cc":  kindStringList,
				"bcc": kindStringList,
			},
		},
		"create_draft": {
			required: map[string]paramKind{
				"to":      kindEmail,
				"subject": kindString,
				"body":    kindString,
			},
		},
		"list_messages": {
			required: map[string]paramKind{},
			optional: map[string]paramKind{
				"query":       kindString,
				"max_results": kindInt,
			},
		},
	}

	routes := map[string]route{
		"send_email": func(params map[string]any) (string, string, map[string]any) {
			return "POST", "/messages/send", params
		},
		"create_draft": func(params map[string]any) (string, string, map[string]any) {
			return "POST", "/drafts", params
		},
		"list_messages": func(params map[string]any) (string, string, map[string]any) {
			q := url.Values{}
			if query, ok := params["query"].(string); ok && query != "" {
				q.Set("q", query)
			}
			if max, ok := params["max_results"]; ok {
				q.Set("max_results", fmt.Sprintf("%v", max))
			}
			path := "/messages"
			if encoded := q.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return "GET", path, nil
		},
	}

	return newRESTConnector(def, specs, routes)
}
