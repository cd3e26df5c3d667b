package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ResourcesFile is the YAML document mapping environment to the
// execute-api resources the authorizer grants:
//
//	environments:
//	  local:
//	    - arn:aws:execute-api:<region>:<account>:<api-id>/*/GET/v1/operations
//	  live:
//	    - ...
type ResourcesFile struct {
	Environments map[string][]string `yaml:"environments"`
}

// protectedRoutes are the METHOD/path pairs every environment grants.
var protectedRoutes = []string{
	"GET/v1/operations",
	"POST/v1/records",
	"GET/v1/records",
	"GET/v1/records/*",
	"DELETE/v1/records/*",
	"POST/v1/signout",
	"GET/v1/random-string",
}

// DefaultResources builds the allow-list for an API prefix such as
// "arn:aws:execute-api:<region>:<account>:<api-id>".
func DefaultResources(apiARN string) []string {
	out := make([]string, len(protectedRoutes))
	for i, route := range protectedRoutes {
		out[i] = apiARN + "/*/" + route
	}
	return out
}

// LoadResources returns the resource list for env. A resources file wins;
// without one the list is built from apiARN (API_ARN). With neither there is
// nothing to grant and the gate cannot be built.
func LoadResources(path, env, apiARN string) ([]string, error) {
	if path == "" {
		if apiARN == "" {
			return nil, errors.New("authorizer resources: set RESOURCES_FILE or API_ARN")
		}
		return DefaultResources(apiARN), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading resources file: %w", err)
	}

	var file ResourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing resources file: %w", err)
	}

	resources, ok := file.Environments[env]
	if !ok || len(resources) == 0 {
		return nil, fmt.Errorf("resources file %s has no entries for environment %q", path, env)
	}
	return resources, nil
}
