package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/stackpilot/internal/storage"
)

func validAgent() storage.Agent {
	return storage.Agent{
		ProductID:     "p1",
		Name:          "Helper",
		Description:   "Answers questions",
		Configuration: storage.DefaultAgentConfiguration(),
	}
}

func TestStruct_ValidAgent(t *testing.T) {
	assert.NoError(t, Struct(validAgent()))
}

func TestStruct_RequiredAndMax(t *testing.T) {
	a := validAgent()
	a.Name = ""
	a.Description = ""

	err := Struct(a)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "name is required; description is required", err.Error())

	a = validAgent()
	a.Name = string(make([]byte, 101))
	err = Struct(a)
	require.Error(t, err)
	assert.Equal(t, "name must be at most 100 characters", err.Error())
}

func TestStruct_AgentConfiguration(t *testing.T) {
	a := validAgent()
	a.Configuration.RateLimitPerMinute = 0
	a.Configuration.AuthType = "basic"

	err := Struct(a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimitperminute must be between 1 and 1000")
	assert.Contains(t, err.Error(), "authtype must be one of: bearer apikey none")
}

func TestStruct_Phases(t *testing.T) {
	p := storage.Product{Name: "x", Phases: []string{"Build", "Ship"}}

	err := Struct(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phases[1] must be one of: All Discover")

	p.Phases = []string{"Build", "Launch"}
	assert.NoError(t, Struct(p))
}

func TestStruct_OAuthClientOnlyCheckedWhenPresent(t *testing.T) {
	a := validAgent()
	assert.NoError(t, Struct(a))

	a.Configuration.A2AOAuth = &storage.A2AOAuth{ClientID: "c"}
	err := Struct(a)
	require.Error(t, err)
	assert.Equal(t, "clientsecret is required", err.Error())
}

func TestStruct_DocumentOverlap(t *testing.T) {
	d := storage.Document{CollectionID: "c", Title: "t", ChunkSize: 500, Overlap: 600}
	err := Struct(d)
	require.Error(t, err)
	assert.Equal(t, "overlap must be less than chunksize", err.Error())

	d.Overlap = 100
	assert.NoError(t, Struct(d))

	d.ChunkSize = 50
	d.Overlap = 10
	err = Struct(d)
	require.Error(t, err)
	assert.Equal(t, "chunksize must be at least 100", err.Error())
}

func TestStruct_NotAStruct(t *testing.T) {
	err := Struct(42)
	require.Error(t, err)
	assert.False(t, IsValidation(err))
}
