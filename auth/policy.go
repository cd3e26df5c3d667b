package auth

import (
	"path"
	"strings"
)

const (
	PolicyVersion = "2012-10-17"
	InvokeAction  = "execute-api:Invoke"
	EffectAllow   = "Allow"
)

// Statement is one allow entry of a policy document.
type Statement struct {
	Action   string   `json:"Action"`
	Effect   string   `json:"Effect"`
	Resource []string `json:"Resource"`
}

// PolicyDocument lists the resources an authorized principal may invoke.
//
// Resources use the execute-api ARN form
//
//	arn:aws:execute-api:{region}:{account}:{api-id}/{stage}/{METHOD}/{path}
//
// where stage, method and path segments may be "*".
type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// NewAllowPolicy grants Invoke over resources.
func NewAllowPolicy(resources []string) PolicyDocument {
	res := make([]string, len(resources))
	copy(res, resources)
	return PolicyDocument{
		Version: PolicyVersion,
		Statement: []Statement{{
			Action:   InvokeAction,
			Effect:   EffectAllow,
			Resource: res,
		}},
	}
}

// Resources returns every allowed resource.
func (p PolicyDocument) Resources() []string {
	var out []string
	for _, s := range p.Statement {
		if s.Effect == EffectAllow && s.Action == InvokeAction {
			out = append(out, s.Resource...)
		}
	}
	return out
}

// Allows reports whether a request for method and urlPath is covered.
func (p PolicyDocument) Allows(method, urlPath string) bool {
	target := strings.ToUpper(method) + "/" + strings.TrimPrefix(urlPath, "/")
	for _, res := range p.Resources() {
		pattern, ok := routePattern(res)
		if !ok {
			continue
		}
		if matched, err := path.Match(pattern, target); err == nil && matched {
			return true
		}
	}
	return false
}

// routePattern strips the ARN prefix and the stage, leaving "METHOD/path".
func routePattern(resource string) (string, bool) {
	_, rest, ok := strings.Cut(resource, "/")
	if !ok {
		return "", false
	}
	_, route, ok := strings.Cut(rest, "/")
	if !ok {
		return "", false
	}
	return route, true
}
