package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containust/containust/pkg/compose"
)

func TestPlanner_Plan_LinearChain(t *testing.T) {
	comp := &compose.Composition{
		Components: map[string]*compose.ComponentDef{
			"api": {Name: "api", Image: "file:///api.tar", Environment: map[string]string{}},
			"db":  {Name: "db", Image: "file:///postgres.tar", Ports: []compose.Port{{Host: 5432, Container: 5432}}, Environment: map[string]string{}},
		},
		ComponentOrder: []string{"api", "db"},
		Connections:    []compose.Connection{{Source: "api", Target: "db"}},
	}

	p := NewPlanner(nil)
	plan, err := p.Plan(comp)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 2)
	assert.Equal(t, []string{"db"}, plan.Phases[0])
	assert.Equal(t, []string{"api"}, plan.Phases[1])

	triple := plan.Injected["api"]["DB"]
	assert.Equal(t, "db", triple.Host)
	assert.Equal(t, "5432", triple.Port)
	assert.Equal(t, "postgres://db:5432", triple.ConnectionString)
}

func TestPlanner_Plan_IndependentComponentsShareAPhase(t *testing.T) {
	comp := &compose.Composition{
		Components: map[string]*compose.ComponentDef{
			"a": {Name: "a", Image: "file:///a.tar", Environment: map[string]string{}},
			"b": {Name: "b", Image: "file:///b.tar", Environment: map[string]string{}},
		},
		ComponentOrder: []string{"a", "b"},
	}
	p := NewPlanner(nil)
	plan, err := p.Plan(comp)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, plan.Phases[0])
}

func TestPlanner_Plan_ProtocolSelection(t *testing.T) {
	cases := []struct {
		image string
		want  string
	}{
		{"file:///postgres-14.tar", "postgres"},
		{"file:///mysql-8.tar", "mysql"},
		{"file:///mariadb.tar", "mysql"},
		{"file:///redis-7.tar", "redis"},
		{"file:///mongo-6.tar", "mongodb"},
		{"file:///rabbitmq-3.tar", "amqp"},
		{"file:///webapp.tar", "http"},
	}
	for _, tc := range cases {
		comp := &compose.Composition{
			Components: map[string]*compose.ComponentDef{
				"api": {Name: "api", Image: "file:///api.tar", Environment: map[string]string{}},
				"tgt": {Name: "tgt", Image: tc.image, Environment: map[string]string{}},
			},
			ComponentOrder: []string{"api", "tgt"},
			Connections:    []compose.Connection{{Source: "api", Target: "tgt"}},
		}
		p := NewPlanner(nil)
		plan, err := p.Plan(comp)
		require.NoError(t, err)
		got := plan.Injected["api"]["TGT"].ConnectionString
		assert.Contains(t, got, tc.want+"://", "image %q", tc.image)
	}
}

func TestPlanner_Plan_PrefixNormalization(t *testing.T) {
	comp := &compose.Composition{
		Components: map[string]*compose.ComponentDef{
			"api":       {Name: "api", Image: "file:///api.tar", Environment: map[string]string{}},
			"my-db.svc": {Name: "my-db.svc", Image: "file:///postgres.tar", Environment: map[string]string{}},
		},
		ComponentOrder: []string{"api", "my-db.svc"},
		Connections:    []compose.Connection{{Source: "api", Target: "my-db.svc"}},
	}
	p := NewPlanner(nil)
	plan, err := p.Plan(comp)
	require.NoError(t, err)
	_, ok := plan.Injected["api"]["MY_DB_SVC"]
	assert.True(t, ok)
}

func TestApplyInjection_UserEnvOverridesAutoInjection(t *testing.T) {
	comp := &compose.Composition{
		Components: map[string]*compose.ComponentDef{
			"api": {Name: "api", Image: "file:///api.tar", Environment: map[string]string{"DB_HOST": "manual-override"}},
			"db":  {Name: "db", Image: "file:///postgres.tar", Environment: map[string]string{}},
		},
		ComponentOrder: []string{"api", "db"},
		Connections:    []compose.Connection{{Source: "api", Target: "db"}},
	}
	p := NewPlanner(nil)
	plan, err := p.Plan(comp)
	require.NoError(t, err)
	ApplyInjection(comp, plan)
	assert.Equal(t, "manual-override", comp.Components["api"].Environment["DB_HOST"])
	assert.Contains(t, comp.Components["api"].Environment["DB_CONNECTION_STRING"], "postgres://db")
}

func TestExposureMap(t *testing.T) {
	plan := &Plan{Exposures: []compose.Exposure{{HostPort: 8080, ContainerPort: 80}, {HostPort: 22, ContainerPort: 22}}}
	m := ExposureMap(plan)
	assert.Equal(t, 80, m[8080])
	assert.Equal(t, 22, m[22])
}
