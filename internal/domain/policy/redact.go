package policy

import (
	"fmt"
	"regexp"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// Redactor applies the configured query filters, in order, before a question
// is sent to any model or stored.
type Redactor struct {
	filters []compiledFilter
}

type compiledFilter struct {
	name    string
	re      *regexp.Regexp
	replace string
}

// NewRedactor compiles every filter; an invalid pattern is a configuration error.
func NewRedactor(filters []config.QueryFilter) (*Redactor, error) {
	r := &Redactor{filters: make([]compiledFilter, 0, len(filters))}
	for _, f := range filters {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return nil, fmt.Errorf("policy: query filter %q: %w", f.Name, err)
		}
		r.filters = append(r.filters, compiledFilter{name: f.Name, re: re, replace: f.ReplaceWith})
	}
	return r, nil
}

// Redact returns the filtered text and the names of the filters that matched.
func (r *Redactor) Redact(text string) (string, []string) {
	if r == nil {
		return text, nil
	}
	var hit []string
	for _, f := range r.filters {
		if !f.re.MatchString(text) {
			continue
		}
		text = f.re.ReplaceAllString(text, f.replace)
		hit = append(hit, f.name)
	}
	return text, hit
}
