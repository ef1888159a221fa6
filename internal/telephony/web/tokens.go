package web

import (
	"fmt"
	"regexp"
	"sync"

	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
)

// Form fields carrying the tokens we need.
const (
	FieldAntiForgery = "GALX"
	FieldCallAuth    = "_rnr_se"
)

var tokenPatterns sync.Map // field -> []*regexp.Regexp

func patternsFor(field string) []*regexp.Regexp {
	if cached, ok := tokenPatterns.Load(field); ok {
		return cached.([]*regexp.Regexp)
	}
	name := regexp.QuoteMeta(field)
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`(?s)name="` + name + `"[^>]*?value="([^"]+)"`),
		regexp.MustCompile(`(?s)value="([^"]+)"[^>]*?name="` + name + `"`),
	}
	tokenPatterns.Store(field, patterns)
	return patterns
}

// ExtractToken returns the value of the named hidden input in body.
func ExtractToken(body, field string) (string, error) {
	for _, re := range patternsFor(field) {
		if m := re.FindStringSubmatch(body); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: field %q", apperrors.ErrTokenNotFound, field)
}
