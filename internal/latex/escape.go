package latex

import (
	"fmt"
	"strings"
)

// EscapePolicy selects how user input is treated before interpolation.
type EscapePolicy string

const (
	// EscapeNone interpolates input verbatim. Input can inject LaTeX commands.
	EscapeNone EscapePolicy = "none"
	// EscapeLaTeX replaces LaTeX special characters with text-mode commands.
	EscapeLaTeX EscapePolicy = "latex"
)

// Escaper transforms a single field value.
type Escaper func(string) string

var latexReplacer = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`{`, `\{`,
	`}`, `\}`,
	`$`, `\$`,
	`&`, `\&`,
	`#`, `\#`,
	`%`, `\%`,
	`_`, `\_`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

// EscapeText escapes the ten LaTeX special characters in s.
func EscapeText(s string) string {
	return latexReplacer.Replace(s)
}

// Escaper returns the function implementing the policy. An empty policy is
// treated as EscapeNone.
func (p EscapePolicy) Escaper() (Escaper, error) {
	switch p {
	case EscapeNone, "":
		return func(s string) string { return s }, nil
	case EscapeLaTeX:
		return EscapeText, nil
	default:
		return nil, fmt.Errorf("unknown escape policy %q", string(p))
	}
}
