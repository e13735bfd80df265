package ticket

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Canonical headings of the required sections. The evaluator matches these
// exactly and case-sensitively; Normalize is responsible for rewriting
// near-miss headings into this shape first.
const (
	SectionGoal        = "Goal"
	SectionDeliverable = "Human-verifiable deliverable"
	SectionAcceptance  = "Acceptance criteria"
	SectionConstraints = "Constraints"
	SectionNonGoals    = "Non-goals"
)

// RequiredSections lists the sections a ticket body must carry, in the
// order gaps are reported.
var RequiredSections = []string{
	SectionGoal,
	SectionDeliverable,
	SectionAcceptance,
	SectionConstraints,
	SectionNonGoals,
}

// placeholderPattern matches template fragments that must be replaced with
// real content: angle-bracket tokens (<summary of the goal>) and bracketed
// filler ([TBD], [TODO: ...]).
var placeholderPattern = regexp.MustCompile(`<[^<>\n]{1,60}>|\[(?i:tbd|todo|tktk|placeholder|fill[ -]?in|\.\.\.)[^\]\n]*\]`)

// ChecklistResult is the per-rule outcome of a readiness evaluation.
type ChecklistResult struct {
	Section string `json:"section"`
	Passed  bool   `json:"passed"`
	Detail  string `json:"detail,omitempty"`
}

// Readiness is the result of evaluating a ticket body against the
// definition of ready. It is derived, never persisted.
type Readiness struct {
	Ready        bool              `json:"ready"`
	MissingItems []string          `json:"missingItems"`
	Checklist    []ChecklistResult `json:"checklistResults"`
}

// taskList parses markdown with checkbox list support.
var taskList = goldmark.New(goldmark.WithExtensions(extension.TaskList))

// EvaluateReadiness checks a normalized ticket body against the readiness
// checklist: every required section present and non-empty, no unresolved
// placeholder tokens, and at least one checkbox item under Acceptance
// criteria. Deterministic and side-effect free.
func EvaluateReadiness(body string) Readiness {
	sections := splitSections(body)

	result := Readiness{MissingItems: []string{}}
	for _, name := range RequiredSections {
		check := evaluateSection(name, sections)
		result.Checklist = append(result.Checklist, check)
		if !check.Passed {
			result.MissingItems = append(result.MissingItems, check.Detail)
		}
	}
	result.Ready = len(result.MissingItems) == 0
	return result
}

func evaluateSection(name string, sections map[string]string) ChecklistResult {
	content, ok := sections[name]
	if !ok {
		return ChecklistResult{
			Section: name,
			Detail:  fmt.Sprintf("missing required section %q", name),
		}
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ChecklistResult{
			Section: name,
			Detail:  fmt.Sprintf("section %q has no content", name),
		}
	}

	if tokens := placeholderPattern.FindAllString(content, -1); len(tokens) > 0 {
		return ChecklistResult{
			Section: name,
			Detail:  fmt.Sprintf("section %q still contains placeholder %s", name, strings.Join(dedupe(tokens), ", ")),
		}
	}

	if name == SectionAcceptance && !hasCheckboxItem(content) {
		return ChecklistResult{
			Section: name,
			Detail:  fmt.Sprintf("section %q needs at least one checkbox item (- [ ] ...)", name),
		}
	}

	return ChecklistResult{Section: name, Passed: true}
}

// FindPlaceholders returns the distinct placeholder tokens in a body, in
// order of first appearance. Used by tool validation to name the offending
// tokens before any side effect.
func FindPlaceholders(body string) []string {
	return dedupe(placeholderPattern.FindAllString(body, -1))
}

// splitSections breaks a body into level-2 sections keyed by their exact
// heading text. Content runs until the next level-1 or level-2 heading.
// Non-required and unrecognized sections come along for free; the caller
// simply ignores them.
func splitSections(body string) map[string]string {
	sections := make(map[string]string)
	var current string
	var buf strings.Builder

	flush := func() {
		if current != "" {
			// First heading occurrence wins.
			if _, seen := sections[current]; !seen {
				sections[current] = buf.String()
			}
		}
		buf.Reset()
	}

	for _, line := range strings.Split(body, "\n") {
		if heading, ok := headingText(line, 2); ok {
			flush()
			current = heading
			continue
		}
		if _, ok := headingText(line, 1); ok {
			flush()
			current = ""
			continue
		}
		if current != "" {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	flush()
	return sections
}

// headingText returns the text of an ATX heading line of the given level.
func headingText(line string, level int) (string, bool) {
	prefix := strings.Repeat("#", level)
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := line[len(prefix):]
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// hasCheckboxItem parses the section as markdown and walks the task-list
// AST looking for at least one checkbox item. Parsing (rather than a line
// regex) keeps indented and asterisk-bulleted checkboxes recognized.
func hasCheckboxItem(section string) bool {
	source := []byte(section)
	doc := taskList.Parser().Parse(text.NewReader(source))

	found := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if _, ok := n.(*east.TaskCheckBox); ok {
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
