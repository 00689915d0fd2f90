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

// Package prompt assembles agent prompts from small string templates with
// a closed set of substitution slots. The templates are built-in string
// constants rendered with text/template, so changing one means rebuilding
// the binary; they use only field substitution and {{if}} guards on empty
// slots, and nothing about them is exposed to configuration.
package prompt

import (
	"bytes"
	"fmt"
	"text/template"
)

// Data carries the substitution slots common to every agent prompt kind.
type Data struct {
	IssueID          string
	IssueTitle       string
	IssueBody        string
	Manifest         string // rendered primary/read/forbidden lists
	Feedback         string // review feedback on a retry, or the last failure notes for a breakdown
	ViolationSummary string // set only on a manifest-violation retry
}

const implementTemplate = `You are implementing issue {{.IssueID}}: {{.IssueTitle}}

{{.IssueBody}}

{{if .Manifest}}Manifest:
{{.Manifest}}
{{end}}{{if .Feedback}}The reviewer requested changes:
{{.Feedback}}
{{end}}{{if .ViolationSummary}}Your previous attempt touched files outside its manifest:
{{.ViolationSummary}}
Only modify files listed in primary_files.
{{end}}
When ready for review, print READY_FOR_REVIEW on its own line.
If you cannot proceed, print BLOCKED: <reason> on its own line.`

const reviewTemplate = `Review the pending changes for issue {{.IssueID}}: {{.IssueTitle}}

If the change is acceptable, print APPROVED on its own line.
Otherwise print CHANGES_REQUESTED: <feedback> on its own line describing what must change.`

const mergeTemplate = `Merge the approved changes for issue {{.IssueID}} into the main working copy.
On success print MERGE_COMPLETE on its own line.`

const planningTemplate = `Review the current ready backlog and attach a MANIFEST: comment to every
issue that is missing one, of the form:
MANIFEST: primary=[path1,path2] read=[path3] forbidden=[path4]

When finished, print PLANNING_COMPLETE on its own line.`

const qualityTemplate = `Perform a quality pass over the current codebase and file any issues found.
When finished, print QUALITY_REVIEW_COMPLETE on its own line.`

const breakdownTemplate = `Issue {{.IssueID}}: {{.IssueTitle}} could not be completed after repeated
attempts:

{{.IssueBody}}

{{if .Feedback}}Last failure: {{.Feedback}}

{{end}}Split it into smaller sub-issues in the tracker. When finished, print
BREAKDOWN_COMPLETE on its own line.`

// Kind names one of the closed set of prompt templates.
type Kind string

const (
	KindImplement Kind = "implement"
	KindReview    Kind = "review"
	KindMerge     Kind = "merge"
	KindPlanning  Kind = "planning"
	KindQuality   Kind = "quality"
	KindBreakdown Kind = "breakdown"
)

var templates = map[Kind]string{
	KindImplement: implementTemplate,
	KindReview:    reviewTemplate,
	KindMerge:     mergeTemplate,
	KindPlanning:  planningTemplate,
	KindQuality:   qualityTemplate,
	KindBreakdown: breakdownTemplate,
}

// Builder renders prompt templates against Data.
type Builder struct {
	parsed map[Kind]*template.Template
}

// NewBuilder parses the built-in template set once at construction.
func NewBuilder() (*Builder, error) {
	b := &Builder{parsed: make(map[Kind]*template.Template, len(templates))}
	for kind, text := range templates {
		tmpl, err := template.New(string(kind)).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s prompt template: %w", kind, err)
		}
		b.parsed[kind] = tmpl
	}
	return b, nil
}

// Build renders the named template against data.
func (b *Builder) Build(kind Kind, data Data) (string, error) {
	tmpl, ok := b.parsed[kind]
	if !ok {
		return "", fmt.Errorf("unknown prompt kind %q", kind)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", kind, err)
	}
	return buf.String(), nil
}

// RenderManifest formats a manifest's three lists into the multi-line
// summary embedded in the implement template.
func RenderManifest(primary, read, forbidden []string) string {
	var buf bytes.Buffer
	writeList(&buf, "primary (writable)", primary)
	writeList(&buf, "read (advisory)", read)
	writeList(&buf, "forbidden", forbidden)
	return buf.String()
}

func writeList(buf *bytes.Buffer, label string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Fprintf(buf, "  %s:\n", label)
	for _, p := range paths {
		fmt.Fprintf(buf, "    - %s\n", p)
	}
}
