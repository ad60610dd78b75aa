// Package taskblock extracts structured task records from free-form
// coordinator output. A task is a region fenced by lines consisting only of
// "@@@", "@@@task", or "@@@tasks" (case-insensitive); within the fence, the
// first top-level heading names the task and any second-level headings
// split the remainder into named sections.
package taskblock

import (
	"fmt"
	"regexp"
	"strings"
)

// Task is one successfully parsed task block.
type Task struct {
	// Title is the raw text of the block's first top-level heading, exactly
	// as written (no Markdown stripped).
	Title string

	Objective        string
	Scope            string
	Inputs           string
	DefinitionOfDone string
	Verification     string
	OutputRequired   string

	// Raw is the full block body, fence lines excluded.
	Raw string
}

// Result is the outcome of Extract.
type Result struct {
	Tasks             []Task
	BlockCount        int
	ValidTaskCount    int
	InvalidBlockCount int

	// Cleaned is the input with every valid block replaced by a
	// "<!-- task-placeholder-N -->" marker (N in extraction order) and every
	// invalid block replaced by "<!-- invalid-task-block-removed -->",
	// preserving the original order of everything else.
	Cleaned string
}

var (
	// fenceLine matches a fence line. Leading whitespace is deliberately not
	// tolerated; trailing whitespace is.
	fenceLine = regexp.MustCompile(`(?i)^@@@(?:tasks?)?[ \t]*$`)
	heading   = regexp.MustCompile(`^(#{1,6})[ \t]+(.+?)[ \t]*$`)
)

// Extract parses every fenced block out of text. Blocks are matched
// sequentially: each fence line toggles in or out of a block, regardless of
// which of the three accepted tokens opened or closed it. A block missing a
// top-level heading, and any block left unterminated at end of input, is
// reported as invalid and never becomes a Task.
func Extract(text string) Result {
	var res Result
	var out []string
	var block []string
	inBlock := false
	taskIndex := 0

	closeBlock := func() {
		res.BlockCount++
		if task, ok := parseBlock(strings.Join(block, "\n")); ok {
			res.Tasks = append(res.Tasks, task)
			res.ValidTaskCount++
			out = append(out, fmt.Sprintf("<!-- task-placeholder-%d -->", taskIndex))
			taskIndex++
		} else {
			res.InvalidBlockCount++
			out = append(out, "<!-- invalid-task-block-removed -->")
		}
		block = nil
	}

	for _, line := range splitLines(text) {
		if fenceLine.MatchString(line) {
			if inBlock {
				closeBlock()
				inBlock = false
			} else {
				inBlock = true
			}
			continue
		}
		if inBlock {
			block = append(block, line)
			continue
		}
		out = append(out, line)
	}
	if inBlock {
		// Unterminated fence: nothing closed it, so the block can never be
		// validated. Treat it the same as a malformed block.
		closeBlock()
	}

	res.Cleaned = strings.Join(out, "\n")
	return res
}

// parseBlock parses one block's body (fence lines already stripped). It is
// valid iff the body contains at least one top-level ("# ") heading; that
// heading's text becomes the title and everything before it is discarded.
func parseBlock(body string) (Task, bool) {
	lines := splitLines(body)

	titleAt := -1
	title := ""
	for i, l := range lines {
		m := heading.FindStringSubmatch(strings.TrimSpace(l))
		if m != nil && len(m[1]) == 1 {
			title, titleAt = m[2], i
			break
		}
	}
	if titleAt == -1 {
		return Task{}, false
	}

	task := Task{Title: title, Raw: body}

	var section string
	var sectionBody []string
	flush := func() {
		if section != "" {
			assignSection(&task, section, strings.TrimSpace(strings.Join(sectionBody, "\n")))
		}
	}
	for _, l := range lines[titleAt+1:] {
		if m := heading.FindStringSubmatch(strings.TrimSpace(l)); m != nil && len(m[1]) == 2 {
			flush()
			section, sectionBody = m[2], nil
			continue
		}
		sectionBody = append(sectionBody, l)
	}
	flush()

	return task, true
}

// assignSection routes a named section's body onto the matching Task field.
// Matching is case- and whitespace-insensitive; an unrecognised heading's
// body is dropped (it was never a named section to begin with).
func assignSection(t *Task, rawName, body string) {
	switch canonicalSectionName(rawName) {
	case "objective":
		t.Objective = body
	case "scope":
		t.Scope = body
	case "inputs":
		t.Inputs = body
	case "definition-of-done":
		t.DefinitionOfDone = body
	case "verification":
		t.Verification = body
	case "output-required":
		t.OutputRequired = body
	}
}

func canonicalSectionName(raw string) string {
	switch strings.ToLower(strings.Join(strings.Fields(raw), " ")) {
	case "objective", "goal":
		return "objective"
	case "scope":
		return "scope"
	case "inputs", "input":
		return "inputs"
	case "definition of done":
		return "definition-of-done"
	case "verification":
		return "verification"
	case "output required", "output":
		return "output-required"
	default:
		return ""
	}
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}
