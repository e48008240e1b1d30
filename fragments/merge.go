// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package fragments joins the script bodies contributed by a collection, its
// groups and a request into one executable unit.
package fragments

import (
	"strings"
)

// Fragment is one script body with an optional source label.
type Fragment struct {
	Label string
	Body  string
}

// Chain holds the fragments of one request's ancestry. Groups are ordered from
// the outermost group to the innermost one.
type Chain struct {
	Collection Fragment
	Groups     []Fragment
	Request    Fragment
}

// Merge concatenates the non-blank fragments in the given order. It reports
// false when nothing is left to execute. A single remaining fragment is
// returned unchanged; otherwise bodies are separated by a blank line and each
// labelled body is preceded by a label comment.
func Merge(frags ...Fragment) (string, bool) {
	kept := make([]Fragment, 0, len(frags))
	for _, f := range frags {
		if strings.TrimSpace(f.Body) != "" {
			kept = append(kept, f)
		}
	}

	switch len(kept) {
	case 0:
		return "", false
	case 1:
		return kept[0].Body, true
	}

	var sb strings.Builder
	for i, f := range kept {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if label := strings.TrimSpace(f.Label); label != "" {
			sb.WriteString("// ---- ")
			sb.WriteString(singleLine(label))
			sb.WriteString(" ----\n")
		}
		sb.WriteString(f.Body)
	}
	return sb.String(), true
}

// PreRequestOrder returns the fragments from the outermost scope to the request.
func PreRequestOrder(c Chain) []Fragment {
	out := make([]Fragment, 0, len(c.Groups)+2)
	out = append(out, c.Collection)
	out = append(out, c.Groups...)
	return append(out, c.Request)
}

// PostResponseOrder returns the fragments from the request out to the collection.
func PostResponseOrder(c Chain) []Fragment {
	out := make([]Fragment, 0, len(c.Groups)+2)
	out = append(out, c.Request)
	for i := len(c.Groups) - 1; i >= 0; i-- {
		out = append(out, c.Groups[i])
	}
	return append(out, c.Collection)
}

// MergePreRequest merges a chain's pre-request scripts.
func MergePreRequest(c Chain) (string, bool) {
	return Merge(PreRequestOrder(c)...)
}

// MergePostResponse merges a chain's post-response scripts.
func MergePostResponse(c Chain) (string, bool) {
	return Merge(PostResponseOrder(c)...)
}

// singleLine keeps a label from breaking out of its comment line.
func singleLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
