// Package dts repairs the TypeScript declaration file that wasm-pack emits
// for --target no-modules builds, so it can be consumed as an ambient
// declaration by a TypeScript project.
package dts

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ErrNoInitInput is returned when the declaration file lacks the generated
// wasm-bindgen loader section.
var ErrNoInitInput = errors.New("declaration file has no InitInput section")

const marker = "InitInput"

var (
	exportKeyword = regexp.MustCompile(`(?m)^export (default )?`)
	initFunction  = regexp.MustCompile(`function\s+init\s*\(`)
)

// Fix rewrites the declaration text. Everything before the line that first
// mentions InitInput is the crate's own API; it is indented and wrapped in
// a wasm_bindgen namespace. In the loader section that follows, exports
// become ambient declarations and init is renamed to wasm_bindgen, which is
// the global the no-modules loader actually defines.
func Fix(contents string) (string, error) {
	idx := strings.Index(contents, marker)
	if idx < 0 {
		return "", ErrNoInitInput
	}
	split := strings.LastIndexByte(contents[:idx], '\n') + 1
	before, after := contents[:split], contents[split:]

	var b strings.Builder
	b.WriteString("declare namespace wasm_bindgen {\n")
	b.WriteString(indent(before, "\t"))
	b.WriteString("}\n")

	after = exportKeyword.ReplaceAllString(after, "declare ")
	if loc := initFunction.FindStringIndex(after); loc != nil {
		after = after[:loc[0]] + "function wasm_bindgen (" + after[loc[1]:]
	}
	b.WriteString(strings.TrimRight(after, " \t\r\n"))
	return b.String(), nil
}

// FixFile applies Fix to the file at path in place.
func FixFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading declarations: %w", err)
	}
	fixed, err := Fix(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("reading declarations: %w", err)
	}
	if err := os.WriteFile(path, []byte(fixed), info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing declarations: %w", err)
	}
	return nil
}

// indent prefixes every line that is not whitespace-only.
func indent(text, prefix string) string {
	if text == "" {
		return ""
	}
	lines := strings.SplitAfter(text, "\n")
	var b strings.Builder
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			b.WriteString(prefix)
		}
		b.WriteString(l)
	}
	return b.String()
}
