package compose

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	units "github.com/docker/go-units"
)

// propType is the static type of a known component property, checked
// against the parsed Value.Kind (spec.md §4.1 "Types").
type propType int

const (
	tString propType = iota
	tInt
	tBool
	tStringList
	tStringMap // map[string]string, e.g. "environment"
	tBlock     // nested map with its own known keys, e.g. "healthcheck", "resources"
)

type propSpec struct {
	name string
	typ  propType
}

// knownProperties is the enumerated component schema (spec.md §3, §4.1,
// §9: "All composition properties have an enumerated schema... Unknown
// keys are rejected").
var knownProperties = map[string]propSpec{
	"image":       {"image", tString},
	"command":     {"command", tStringList},
	"entrypoint":  {"entrypoint", tStringList},
	"working_dir": {"working_dir", tString},
	"user":        {"user", tString},
	"hostname":    {"hostname", tString},
	"port":        {"port", tString},
	"ports":       {"ports", tStringList},
	"volume":      {"volume", tString},
	"volumes":     {"volumes", tStringList},
	"environment": {"environment", tStringMap},
	"readonly":    {"readonly", tBool},
	"restart":     {"restart", tString},
	"network":     {"network", tString},
	"resources":   {"resources", tBlock},
	"healthcheck": {"healthcheck", tBlock},
}

var restartPolicies = map[string]bool{"never": true, "on-failure": true, "always": true}

// ResourceLimits is the canonical, post-parse representation of
// spec.md §3's "Resource limits" tuple. Absent fields are zero and
// mean "inherit host default".
type ResourceLimits struct {
	CPUWeight   uint64
	MemoryBytes uint64
	IOWeight    uint64
}

// HealthProbe is the canonical, post-parse representation of spec.md
// §3's "Health probe" block, with defaults applied (30s/5s/3/0s).
type HealthProbe struct {
	Command     []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

func defaultHealthProbe() HealthProbe {
	return HealthProbe{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// parseSize parses a size literal ("512MB", "1GiB") into a canonical
// byte count, using docker/go-units the same way spec.md §9 mandates
// ("suffixed-string form in the file and a canonical byte... share
// representation post-parse"). Decimal suffixes (KB/MB/GB) go through
// units.FromHumanSize (powers of 1000) and binary suffixes
// (KiB/MiB/GiB) through units.RAMInBytes (powers of 1024).
func parseSize(s string) (uint64, error) {
	parse := units.FromHumanSize
	if strings.Contains(strings.ToLower(s), "ib") {
		parse = units.RAMInBytes
	}
	n, err := parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size literal %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size literal %q: negative", s)
	}
	return uint64(n), nil
}

// parseDuration parses a duration literal with the s|m|h suffixes
// spec.md §4.1 lists. time.ParseDuration already accepts exactly that
// vocabulary (plus finer units we simply don't advertise).
func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration literal %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration literal %q: negative", s)
	}
	return d, nil
}

// parseHostContainerPair parses a "host:container" or bare "port"
// string using docker/go-connections/nat's port grammar, the same
// dependency ORCA's container manager already uses for the same job
// (pkg/container/manager.go's port-binding loop).
func parseHostContainerPair(s string) (host, container int, err error) {
	if !strings.Contains(s, ":") {
		p, err := strconv.Atoi(s)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port %q", s)
		}
		return p, p, nil
	}
	parts := strings.SplitN(s, ":", 2)
	hostPort, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid host port in %q", s)
	}
	containerPort, err := nat.ParsePort(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid container port in %q: %w", s, err)
	}
	return hostPort, containerPort, nil
}

// parseHostPathPair parses a "host-path:container-path" volume spec
// (spec.md §3: 'each is "host-path:container-path"').
func parseHostPathPair(s string) (hostPath, containerPath string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid volume mapping %q: want \"host-path:container-path\"", s)
	}
	return parts[0], parts[1], nil
}
