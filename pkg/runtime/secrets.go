package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/containust/containust/pkg/ctsterr"
)

// redacted is what a Secret's String/Format methods print instead of
// the value, so a stray %v or logrus field never leaks it (spec.md
// §4.5 "Secrets": "redacted from log formatters at type level").
const redacted = "***REDACTED***"

// Secret wraps a resolved secret value so it can travel through the
// engine (as part of a resolved environment) without an accidental
// fmt.Sprintf/logrus field exposing it. Only resolveSecret and the
// engine's interpolation resolver in resolveComponent read Value
// directly.
type Secret struct {
	Value string
}

func (s Secret) String() string              { return redacted }
func (s Secret) GoString() string            { return redacted }
func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// resolveSecret implements spec.md §4.5's lookup order: first a
// process environment variable CONTAINUST_SECRET_<UPPER(name)>, else
// a file <secretsDir>/<name>. Missing is a deploy-time error.
func resolveSecret(name, secretsDir string) (Secret, error) {
	envKey := "CONTAINUST_SECRET_" + strings.ToUpper(name)
	if val, ok := os.LookupEnv(envKey); ok {
		return Secret{Value: val}, nil
	}
	if secretsDir != "" {
		path := filepath.Join(secretsDir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return Secret{Value: strings.TrimRight(string(data), "\n")}, nil
		}
		if !os.IsNotExist(err) {
			return Secret{}, ctsterr.WithPath(ctsterr.KindIO, "", "failed to read secret file", path, err)
		}
	}
	return Secret{}, ctsterr.New(ctsterr.KindConfig, "", fmt.Sprintf("secret %q not found: no %s environment variable and no file under the secrets directory", name, envKey))
}
