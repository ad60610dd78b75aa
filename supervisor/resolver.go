package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// EnvBinaryResolver resolves a provider identifier to an executable by
// checking an override environment variable first
// (ACPCORE_PROVIDER_<PROVIDER>_BIN, provider upper-cased with non-alphanumerics
// turned into underscores), then falling back to a bare lookup of the
// provider identifier itself on PATH. Extra arguments, if configured for a
// provider, are appended after the resolved command.
type EnvBinaryResolver struct {
	// ExtraArgs maps a provider identifier to the arguments its binary is
	// invoked with, e.g. {"claude": {"--print", "--output-format", "stream-json"}}.
	ExtraArgs map[string][]string
}

// NewEnvBinaryResolver constructs an EnvBinaryResolver with the given
// per-provider argument lists. A nil map means every provider is invoked
// with no arguments.
func NewEnvBinaryResolver(extraArgs map[string][]string) *EnvBinaryResolver {
	return &EnvBinaryResolver{ExtraArgs: extraArgs}
}

// Resolve implements BinaryResolver.
func (r *EnvBinaryResolver) Resolve(_ context.Context, provider string) (string, []string, error) {
	if provider == "" {
		return "", nil, fmt.Errorf("resolve binary: provider identifier is required")
	}

	command := provider
	if override := os.Getenv(envVarFor(provider)); override != "" {
		command = override
	} else if path, err := exec.LookPath(provider); err == nil {
		command = path
	}

	return command, r.ExtraArgs[provider], nil
}

func envVarFor(provider string) string {
	var b strings.Builder
	b.WriteString("ACPCORE_PROVIDER_")
	for _, r := range strings.ToUpper(provider) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	b.WriteString("_BIN")
	return b.String()
}
