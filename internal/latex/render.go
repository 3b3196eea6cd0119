// Package latex renders the report cover LaTeX source from form fields.
// Rendering is pure: no filesystem, clock or network access.
package latex

import (
	"bytes"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// Asset paths referenced by the template, relative to the compile directory.
const (
	LogoFile = "Logo.png"
	FontDir  = "fonts"

	// DefaultFontFile is loaded when no font file is configured.
	DefaultFontFile = "TimesNewRoman.ttf"
)

//go:embed templates/report.tex.tmpl
var reportTemplate string

// Fields are the values substituted into the template.
type Fields struct {
	Name        string
	RegNumber   string
	TeacherName string
	Pronoun     string
	Date        string
}

// Renderer produces LaTeX source for a set of fields.
type Renderer struct {
	tmpl     *template.Template
	escape   Escaper
	fontFile string
}

// NewRenderer parses the embedded template and binds the escape policy.
// fontFile is the base name of the font staged under FontDir; empty selects
// DefaultFontFile.
func NewRenderer(policy EscapePolicy, fontFile string) (*Renderer, error) {
	esc, err := policy.Escaper()
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New("report").Delims("<<", ">>").Option("missingkey=error").Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	if fontFile == "" {
		fontFile = DefaultFontFile
	}
	return &Renderer{tmpl: tmpl, escape: esc, fontFile: filepath.Base(fontFile)}, nil
}

// Honorific maps a pronoun to the title printed before the name.
func Honorific(pronoun string) string {
	switch pronoun {
	case "him":
		return "Mr."
	case "her":
		return "Ms."
	default:
		return "Mx."
	}
}

// Render returns the complete document source. Identical fields always yield
// byte-identical output.
func (r *Renderer) Render(f Fields) (string, error) {
	data := struct {
		Name        string
		RegNumber   string
		TeacherName string
		Pronoun     string
		Date        string
		Honorific   string
		Logo        string
		FontDir     string
		FontName    string
		FontExt     string
	}{
		Name:        r.escape(f.Name),
		RegNumber:   r.escape(f.RegNumber),
		TeacherName: r.escape(f.TeacherName),
		Pronoun:     r.escape(f.Pronoun),
		Date:        r.escape(f.Date),
		Honorific:   Honorific(f.Pronoun),
		Logo:        LogoFile,
		FontDir:     FontDir,
		FontName:    strings.TrimSuffix(r.fontFile, filepath.Ext(r.fontFile)),
		FontExt:     filepath.Ext(r.fontFile),
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report template: %w", err)
	}
	return buf.String(), nil
}
