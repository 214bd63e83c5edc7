// Package flowlocation builds the URI agents fetch flow content from.
package flowlocation

import (
	"fmt"
	"net/url"
	"strings"
)

const contentPath = "/c2/api/flows/%s/content"

type Resolver struct {
	base *url.URL
}

// NewResolver returns a resolver producing relative URIs when baseURL is
// empty and absolute URIs under baseURL otherwise.
func NewResolver(baseURL string) (*Resolver, error) {
	r := &Resolver{}
	if baseURL == "" {
		return r, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid flow base url %q: %w", baseURL, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("flow base url %q must be absolute", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	r.base = u
	return r, nil
}

func (r *Resolver) FlowLocation(flowID string) string {
	p := fmt.Sprintf(contentPath, url.PathEscape(flowID))
	if r.base == nil {
		return p
	}
	u := *r.base
	u.Path += p
	u.RawPath = ""
	return u.String()
}
