package candidates

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed meta.json
var embeddedMeta []byte

// ParseError reports a candidate document that is malformed or incomplete.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse candidates: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// meta mirrors the address groups of GitHub's meta document. Pointers
// distinguish a missing group from an empty one.
type meta struct {
	Web *[]string `yaml:"web"`
	API *[]string `yaml:"api"`
	Git *[]string `yaml:"git"`
}

func NormalizeAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return "", false
	}
	return s, true
}

// Parse decodes a JSON or YAML document with web, api and git groups and
// flattens it into plain addresses in git, api, web order.
func Parse(raw []byte) ([]string, error) {
	var m meta
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, &ParseError{Err: err}
	}

	var missing error
	for _, g := range []struct {
		name string
		list *[]string
	}{{"web", m.Web}, {"api", m.API}, {"git", m.Git}} {
		if g.list == nil {
			missing = multierror.Append(missing, errors.Errorf("missing group %q", g.name))
		}
	}
	if missing != nil {
		return nil, &ParseError{Err: missing}
	}

	var out []string
	for _, group := range [][]string{*m.Git, *m.API, *m.Web} {
		for _, entry := range group {
			if addr, ok := NormalizeAddress(entry); ok {
				out = append(out, addr)
			}
		}
	}
	return out, nil
}

// Default parses the document compiled into the binary.
func Default() ([]string, error) {
	return Parse(embeddedMeta)
}

func ReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read candidates %s", path)
	}
	return Parse(b)
}

// Dedupe drops repeated addresses, keeping the first occurrence.
func Dedupe(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
