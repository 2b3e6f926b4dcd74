package compose

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticResolver resolves imports from an in-memory map, avoiding
// filesystem fixtures for these unit tests.
type staticResolver struct {
	files map[string]string
}

func (r *staticResolver) Resolve(fromFile, importPath string) (string, []byte, error) {
	src, ok := r.files[importPath]
	if !ok {
		return "", nil, fmt.Errorf("no such import %q", importPath)
	}
	return importPath, []byte(src), nil
}

func TestAnalyze_EmptyComposition(t *testing.T) {
	comp, diags := Analyze("entry.ctst", "", &staticResolver{})
	require.NotNil(t, comp)
	assert.False(t, diags.HasErrors())
	assert.Empty(t, comp.Components)
}

func TestAnalyze_MinimalComponent(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///images/web.tar"
}`
	comp, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.False(t, diags.HasErrors())
	require.Contains(t, comp.Components, "web")
	assert.Equal(t, "file:///images/web.tar", comp.Components["web"].Image)
	assert.Equal(t, "never", comp.Components["web"].Restart)
	assert.True(t, comp.Components["web"].ReadOnly)
}

func TestAnalyze_MissingImageIsError(t *testing.T) {
	src := `COMPONENT web {
  command = ["serve"]
}`
	_, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.True(t, diags.HasErrors())
	assertHasCode(t, diags, "E005")
}

func TestAnalyze_UnknownPropertyIsError(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///images/web.tar"
  bogus = "x"
}`
	_, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.True(t, diags.HasErrors())
	assertHasCode(t, diags, "E006")
}

func TestAnalyze_DuplicateComponentNameIsError(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///a.tar"
}
COMPONENT web {
  image = "file:///b.tar"
}`
	_, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.True(t, diags.HasErrors())
	assertHasCode(t, diags, "E003")
}

func TestAnalyze_HTTPImageSchemeIsRejected(t *testing.T) {
	src := `COMPONENT web {
  image = "http://example.com/web.tar"
}`
	_, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.True(t, diags.HasErrors())
	assertHasCode(t, diags, "E007")
}

func TestAnalyze_ConnectSelfCycleIsError(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///a.tar"
}
CONNECT web -> web`
	_, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.True(t, diags.HasErrors())
	assertHasCode(t, diags, "E004")
}

func TestAnalyze_ConnectUndefinedTargetIsError(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///a.tar"
}
CONNECT web -> ghost`
	_, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.True(t, diags.HasErrors())
	assertHasCode(t, diags, "E002")
}

func TestAnalyze_TemplateInheritanceMergesMaps(t *testing.T) {
	src := `COMPONENT base {
  image = "file:///base.tar"
  environment = { LOG_LEVEL = "info", REGION = "us" }
}
COMPONENT child FROM base {
  environment = { REGION = "eu" }
}`
	comp, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.False(t, diags.HasErrors())
	child := comp.Components["child"]
	require.NotNil(t, child)
	assert.Equal(t, "file:///base.tar", child.Image)
	assert.Equal(t, "info", child.Environment["LOG_LEVEL"])
	assert.Equal(t, "eu", child.Environment["REGION"])
}

func TestAnalyze_TemplateCycleIsError(t *testing.T) {
	src := `COMPONENT a FROM b {
  image = "file:///a.tar"
}
COMPONENT b FROM a {
  image = "file:///b.tar"
}`
	_, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.True(t, diags.HasErrors())
	assertHasCode(t, diags, "E004")
}

func TestAnalyze_InterpolationOfUndefinedComponentIsError(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///a.tar"
  hostname = "${ghost.name}"
}`
	_, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.True(t, diags.HasErrors())
	assertHasCode(t, diags, "E002")
}

func TestAnalyze_InterpolationOfSecretAndEnvIsAllowed(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///a.tar"
  hostname = "${env.HOST}"
  user = "${secret.db_user}"
}`
	_, diags := Analyze("entry.ctst", src, &staticResolver{})
	assert.False(t, diags.HasErrors())
}

func TestResolveString_SubstitutesEveryReference(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///a.tar"
}
COMPONENT db {
  image = "file:///b.tar"
}`
	comp, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.False(t, diags.HasErrors())
	components := comp.Components

	resolve := func(kind NamespaceKind, namespace, field string) (string, error) {
		switch kind {
		case NSComponent:
			return namespace + "-host", nil
		case NSSecret:
			return "s3cr3t", nil
		case NSEnv:
			return "from-env", nil
		}
		return "", fmt.Errorf("unreachable namespace kind %v", kind)
	}

	out, err := ResolveString("postgres://${secret.db_user}@${db.host}/${env.DBNAME}", components, resolve)
	require.NoError(t, err)
	assert.Equal(t, "postgres://s3cr3t@db-host/from-env", out)
}

func TestResolveString_UndefinedComponentIsError(t *testing.T) {
	_, err := ResolveString("${ghost.name}", map[string]*ComponentDef{}, func(NamespaceKind, string, string) (string, error) {
		return "", nil
	})
	require.Error(t, err)
}

func TestResolveString_PropagatesResolverError(t *testing.T) {
	components := map[string]*ComponentDef{"web": {}}
	_, err := ResolveString("${web.host}", components, func(NamespaceKind, string, string) (string, error) {
		return "", fmt.Errorf("boom")
	})
	require.ErrorContains(t, err, "boom")
}

func TestAnalyze_ImportCycleIsError(t *testing.T) {
	resolver := &staticResolver{files: map[string]string{
		"a.ctst": `IMPORT "b.ctst"`,
		"b.ctst": `IMPORT "a.ctst"`,
	}}
	_, diags := Analyze("entry.ctst", `IMPORT "a.ctst"`, resolver)
	require.True(t, diags.HasErrors())
	assertHasCode(t, diags, "E008")
}

func TestAnalyze_PortAndPortsIsError(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///a.tar"
  port = 80
  ports = ["80:80"]
}`
	_, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.True(t, diags.HasErrors())
	assertHasCode(t, diags, "E006")
}

func TestAnalyze_ResourcesAndHealthcheckParse(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///a.tar"
  resources = { cpu = 512, memory = "256MB", io = 100 }
  healthcheck = { command = ["curl", "-f", "http://localhost/health"], interval = "10s", timeout = "2s", retries = 5 }
}`
	comp, diags := Analyze("entry.ctst", src, &staticResolver{})
	require.False(t, diags.HasErrors())
	web := comp.Components["web"]
	assert.EqualValues(t, 512, web.Resources.CPUWeight)
	assert.EqualValues(t, 256_000_000, web.Resources.MemoryBytes)
	require.NotNil(t, web.Health)
	assert.Equal(t, 5, web.Health.Retries)
}

func TestPrint_RoundTrip(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///a.tar"
  command = ["serve", "--port", "8080"]
  environment = { LOG_LEVEL = "info" }
}
CONNECT web -> db
EXPOSE 8080
`
	f, err := Parse("entry.ctst", src)
	require.NoError(t, err)

	printed := Print(f)
	reparsed, err := Parse("entry.ctst", printed)
	require.NoError(t, err)

	assert.True(t, EqualFiles(f, reparsed), "expected round-trip to preserve semantics, got:\n%s", printed)
}

func TestPrint_Idempotent(t *testing.T) {
	src := `COMPONENT web {
  image = "file:///a.tar"
}`
	f, err := Parse("entry.ctst", src)
	require.NoError(t, err)

	first := Print(f)
	reparsed, err := Parse("entry.ctst", first)
	require.NoError(t, err)
	second := Print(reparsed)

	assert.Equal(t, first, second)
}

func assertHasCode(t *testing.T, diags Diagnostics, code string) {
	t.Helper()
	for _, d := range diags {
		if d.Code == code {
			return
		}
	}
	t.Fatalf("expected a diagnostic with code %s, got: %v", code, diags)
}
