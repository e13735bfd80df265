package ticket

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// headingFold performs Unicode case folding for near-miss heading matches.
var headingFold = cases.Fold()

// headingAliases maps case-folded near-miss headings to their canonical
// section name. Canonical names fold onto themselves, which is what makes
// Normalize idempotent.
var headingAliases = map[string]string{
	"goal":                         SectionGoal,
	"goals":                        SectionGoal,
	"human-verifiable deliverable": SectionDeliverable,
	"human verifiable deliverable": SectionDeliverable,
	"deliverable":                  SectionDeliverable,
	"deliverables":                 SectionDeliverable,
	"acceptance criteria":          SectionAcceptance,
	"acceptance-criteria":          SectionAcceptance,
	"constraints":                  SectionConstraints,
	"constraint":                   SectionConstraints,
	"non-goals":                    SectionNonGoals,
	"non goals":                    SectionNonGoals,
	"nongoals":                     SectionNonGoals,
	"non-goal":                     SectionNonGoals,
}

// atxHeading matches an ATX heading line: leading hashes, the text, and
// optional trailing hashes.
var atxHeading = regexp.MustCompile(`^(#{1,6})[ \t]+(.*?)[ \t]*#*[ \t]*$`)

// Normalize rewrites near-miss required-section headings (wrong level,
// alternate casing, known aliases, trailing colons) into the canonical
// "## <Section>" form the evaluator expects. Section content is never
// touched and missing sections are never invented. Normalizing twice
// equals normalizing once.
func Normalize(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		m := atxHeading.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		heading := strings.TrimSuffix(m[2], ":")
		canonical, ok := headingAliases[headingFold.String(heading)]
		if !ok {
			continue
		}
		lines[i] = "## " + canonical
	}
	return strings.Join(lines, "\n")
}

// plainBullet matches a bullet list line that is not already a checkbox.
var (
	plainBullet  = regexp.MustCompile(`^(\s*)[-*+][ \t]+(.+)$`)
	checkboxItem = regexp.MustCompile(`^\s*[-*+][ \t]+\[[ xX]\]`)
	numberedItem = regexp.MustCompile(`^(\s*)\d+[.)][ \t]+(.+)$`)
)

// FixAcceptanceBullets rewrites plain bullet (and numbered) list items in
// the Acceptance criteria section into unchecked checkbox items. This is
// the one bounded auto-fix applied at creation time; anything else that
// keeps a ticket unready is reported, not repaired.
func FixAcceptanceBullets(body string) string {
	lines := strings.Split(body, "\n")
	inAcceptance := false
	for i, line := range lines {
		if heading, ok := headingText(line, 2); ok {
			inAcceptance = heading == SectionAcceptance
			continue
		}
		if _, ok := headingText(line, 1); ok {
			inAcceptance = false
			continue
		}
		if !inAcceptance || checkboxItem.MatchString(line) {
			continue
		}
		if m := plainBullet.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + "- [ ] " + m[2]
		} else if m := numberedItem.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + "- [ ] " + m[2]
		}
	}
	return strings.Join(lines, "\n")
}
