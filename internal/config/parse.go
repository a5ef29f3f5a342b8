package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

func ParseServices(data []byte) (*Services, error) {
	services := NewDefaultServices()
	err := yaml.Unmarshal(data, services)
	if err != nil {
		return nil, err
	}
	sanitizeServices(services)

	for _, s := range services.Services {
		if !serviceNamePattern.MatchString(s.Name) {
			return nil, fmt.Errorf("invalid service name %q", s.Name)
		}
		if _, ok := reservedServiceNames[s.Name]; ok {
			return nil, fmt.Errorf("service name %q is reserved", s.Name)
		}
		if s.Timeout < 0 {
			return nil, fmt.Errorf("service %s: timeout must not be negative", s.Name)
		}
	}

	return services, nil
}

func sanitizeServices(services *Services) {
	for i := range services.Services {
		services.Services[i].Name = strings.ToLower(strings.TrimSpace(services.Services[i].Name))
		services.Services[i].Queue = strings.TrimSpace(services.Services[i].Queue)
	}
}

// Lookup returns the file entry for the named service, if present.
func (s *Services) Lookup(name string) (Service, bool) {
	if s == nil {
		return Service{}, false
	}
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// Merge returns the service names from the environment followed by any names
// only present in the file, preserving order and dropping duplicates.
func (s *Services) Merge(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	merged := make([]string, 0, len(names))

	add := func(n string) {
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		merged = append(merged, n)
	}

	for _, n := range names {
		add(n)
	}
	if s != nil {
		for _, svc := range s.Services {
			add(svc.Name)
		}
	}

	return merged
}
