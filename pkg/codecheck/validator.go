// Package codecheck validates generated scripts before the supervisor is
// allowed to execute them.
package codecheck

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

// Violation is one rule breach found in a script.
type Violation struct {
	Rule    string `json:"rule"`
	LineNo  int    `json:"line_no"`
	Snippet string `json:"snippet"`
}

// Result is the outcome of validating a script.
type Result struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations,omitempty"`
}

// Approval is a single-use token binding a validation result to the exact
// script text. The supervisor consumes it at launch; a modified script or a
// reused approval is refused.
type Approval struct {
	sum  [sha256.Size]byte
	used atomic.Bool
}

// Consume checks the approval against the script and marks it used.
func (a *Approval) Consume(code string) bool {
	if a == nil {
		return false
	}
	if sha256.Sum256([]byte(code)) != a.sum {
		return false
	}
	return a.used.CompareAndSwap(false, true)
}

// defaultImports is the whitelist of modules a generated script may import.
var defaultImports = map[string]bool{
	"json":     true,
	"sys":      true,
	"time":     true,
	"datetime": true,
	"csv":      true,
	"math":     true,
	"re":       true,
	"urllib":   true,
	"requests": true,
}

// forbidden matches dynamic-execution primitives regardless of spacing.
var forbidden = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\b__import__\s*\(`),
	regexp.MustCompile(`\bcompile\s*\(`),
	regexp.MustCompile(`\bimportlib\b`),
	regexp.MustCompile(`\bsubprocess\b`),
	regexp.MustCompile(`\bos\.system\b`),
	regexp.MustCompile(`\bos\.popen\b`),
	regexp.MustCompile(`\bctypes\b`),
}

var (
	importRe     = regexp.MustCompile(`^\s*(?:import|from)\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	urlPathRe    = regexp.MustCompile(`https?://[^/"'\s]+(/[^"'\s]*)`)
	writeModeRe  = regexp.MustCompile(`\bopen\s*\(\s*([^,)]+)\s*,\s*["']([wax][b+]*)["']`)
	relPathQuote = regexp.MustCompile(`^["'](.+)["']$`)
)

// Validator checks generated scripts against the execution policy:
// import whitelist, Okta endpoint base path, filesystem write scope, and
// no dynamic code execution.
type Validator struct {
	allowedImports map[string]bool
	dataDir        string
}

// New creates a validator. Writes are only permitted under dataDir.
// extraImports widens the whitelist (e.g. an internal helper module made
// available to scripts).
func New(dataDir string, extraImports ...string) *Validator {
	allowed := make(map[string]bool, len(defaultImports)+len(extraImports))
	for k := range defaultImports {
		allowed[k] = true
	}
	for _, m := range extraImports {
		allowed[m] = true
	}
	return &Validator{allowedImports: allowed, dataDir: dataDir}
}

// Validate checks the script. On success the returned Approval authorizes
// exactly one launch of exactly this text.
func (v *Validator) Validate(code string) (*Result, *Approval) {
	var violations []Violation

	for i, line := range strings.Split(code, "\n") {
		lineNo := i + 1
		stripped := stripComment(line)
		if strings.TrimSpace(stripped) == "" {
			continue
		}

		if m := importRe.FindStringSubmatch(stripped); m != nil {
			root := strings.SplitN(m[1], ".", 2)[0]
			if !v.allowedImports[root] {
				violations = append(violations, Violation{
					Rule:    fmt.Sprintf("import of %q is not whitelisted", root),
					LineNo:  lineNo,
					Snippet: strings.TrimSpace(line),
				})
			}
		}

		for _, re := range forbidden {
			if re.MatchString(stripped) {
				violations = append(violations, Violation{
					Rule:    fmt.Sprintf("forbidden construct %s", re.String()),
					LineNo:  lineNo,
					Snippet: strings.TrimSpace(line),
				})
			}
		}

		for _, m := range urlPathRe.FindAllStringSubmatch(stripped, -1) {
			if !strings.HasPrefix(m[1], "/api/v1/") {
				violations = append(violations, Violation{
					Rule:    fmt.Sprintf("endpoint %q outside /api/v1/", m[1]),
					LineNo:  lineNo,
					Snippet: strings.TrimSpace(line),
				})
			}
		}

		for _, m := range writeModeRe.FindAllStringSubmatch(stripped, -1) {
			if !v.writeAllowed(m[1]) {
				violations = append(violations, Violation{
					Rule:    fmt.Sprintf("write outside data directory (mode %q)", m[2]),
					LineNo:  lineNo,
					Snippet: strings.TrimSpace(line),
				})
			}
		}
	}

	if len(violations) > 0 {
		return &Result{OK: false, Violations: violations}, nil
	}
	return &Result{OK: true}, &Approval{sum: sha256.Sum256([]byte(code))}
}

// writeAllowed accepts only string-literal paths inside the data directory.
// Dynamic path expressions cannot be proven safe and are rejected.
func (v *Validator) writeAllowed(target string) bool {
	target = strings.TrimSpace(target)
	m := relPathQuote.FindStringSubmatch(target)
	if m == nil {
		return false
	}
	path := m[1]
	if v.dataDir == "" || strings.Contains(path, "..") {
		return false
	}
	return strings.HasPrefix(path, v.dataDir+"/")
}

// stripComment removes a trailing # comment, ignoring # inside quotes.
func stripComment(line string) string {
	inSingle, inDouble := false, false
	for i, r := range line {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '#':
			if !inSingle && !inDouble {
				return line[:i]
			}
		}
	}
	return line
}
