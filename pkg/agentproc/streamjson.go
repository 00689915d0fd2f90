// Copyright 2025 Kadir Pekel
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

package agentproc

import "encoding/json"

// streamEvent mirrors the subset of the implementation agent's
// stream-json schema this package needs: one JSON object per line, with
// either a nested message.content array of {type, text} blocks or an
// event.delta.text increment.
type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message,omitempty"`
	Event *struct {
		Delta *struct {
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event,omitempty"`
}

// ExtractText parses a single stream-json line and returns any plain-text
// content it carries, concatenated. Lines that aren't valid stream-json
// (e.g. a bare marker string printed outside the protocol) yield "", false
// rather than an error — the caller falls back to treating the raw line
// as the text.
func ExtractText(line string) (string, bool) {
	var ev streamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return "", false
	}

	var text string
	if ev.Message != nil {
		for _, block := range ev.Message.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
	}
	if ev.Event != nil && ev.Event.Delta != nil {
		text += ev.Event.Delta.Text
	}

	if text == "" {
		return "", false
	}
	return text, true
}
