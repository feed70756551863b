package registry

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/0xReLogic/logprobe/internal/delivery"
)

// ResolveServiceAddresses reads a YAML registry file and returns the addresses
// listed for serviceName. Expected format:
//
//	services:
//	  ingest: logs-1.internal:30000
//	  ingest-pool:
//	    - logs-1.internal:30000
//	    - logs-2.internal:30000
func ResolveServiceAddresses(registryPath, serviceName string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(registryPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	// viper lower-cases keys
	raw, ok := v.GetStringMap("services")[strings.ToLower(serviceName)]
	if !ok {
		return nil, fmt.Errorf("service %q not found in registry", serviceName)
	}

	var addrs []string
	switch val := raw.(type) {
	case string:
		addrs = append(addrs, val)
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok {
				addrs = append(addrs, s)
			}
		}
	}
	out := addrs[:0]
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("service %q has no address in registry", serviceName)
	}
	return out, nil
}

// ResolveEndpoint returns the first address registered for serviceName as an
// Endpoint. A run targets exactly one server.
func ResolveEndpoint(registryPath, serviceName string) (delivery.Endpoint, error) {
	addrs, err := ResolveServiceAddresses(registryPath, serviceName)
	if err != nil {
		return delivery.Endpoint{}, err
	}
	ep, err := delivery.ParseEndpoint(addrs[0])
	if err != nil {
		return delivery.Endpoint{}, fmt.Errorf("service %q: %w", serviceName, err)
	}
	return ep, nil
}
