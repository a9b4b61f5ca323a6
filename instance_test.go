package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstanceDefaults(t *testing.T) {
	inst := NewInstance("orders", "10.0.0.5", 8080)

	assert.Equal(t, "orders", inst.Name)
	assert.Equal(t, ProtocolHTTP, inst.Protocol)
	assert.Equal(t, StatusStarting, inst.Status)
	assert.NotEmpty(t, inst.ID)
	assert.Contains(t, inst.ID, "orders:10.0.0.5:8080:")
}

func TestInstanceWithTagsDedupesFirstWins(t *testing.T) {
	inst := NewInstance("orders", "10.0.0.5", 8080)
	inst.WithTags("v1", "canary", "v1")

	require.Equal(t, []string{"v1", "canary"}, inst.Tags)
}

func TestInstanceBaseURL(t *testing.T) {
	inst := NewInstance("orders", "10.0.0.5", 8080)
	assert.Equal(t, "http://10.0.0.5:8080", inst.BaseURL())

	inst.Protocol = ProtocolHTTPS
	assert.Equal(t, "https://10.0.0.5:8080", inst.BaseURL())
}

func TestInstanceWeight(t *testing.T) {
	inst := NewInstance("orders", "10.0.0.5", 8080)
	assert.Equal(t, 1, inst.Weight(), "no metadata defaults to 1")

	inst.Metadata["weight"] = 5
	assert.Equal(t, 5, inst.Weight())

	inst.Metadata["weight"] = float64(3)
	assert.Equal(t, 3, inst.Weight())

	inst.Metadata["weight"] = -2
	assert.Equal(t, 1, inst.Weight(), "non-positive falls back to 1")

	inst.Metadata["weight"] = "bogus"
	assert.Equal(t, 1, inst.Weight(), "non-numeric falls back to 1")
}

func TestInstanceCloneIsIndependent(t *testing.T) {
	inst := NewInstance("orders", "10.0.0.5", 8080)
	inst.Metadata["region"] = "us-east"
	inst.WithTags("v1")

	clone := inst.Clone()
	clone.Metadata["region"] = "us-west"
	clone.Tags[0] = "v2"

	assert.Equal(t, "us-east", inst.Metadata["region"])
	assert.Equal(t, "v1", inst.Tags[0])
}

func TestFilterMatches(t *testing.T) {
	inst := NewInstance("orders", "10.0.0.5", 8080)
	inst.Status = StatusUp
	inst.Zone = "us-east-1a"
	inst.WithTags("v1", "canary")
	inst.Metadata["region"] = "us-east"

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches everything", Filter{}, true},
		{"matching name", Filter{Name: "orders"}, true},
		{"mismatched name", Filter{Name: "payments"}, false},
		{"matching status", Filter{Status: StatusUp}, true},
		{"mismatched status", Filter{Status: StatusDown}, false},
		{"matching zone", Filter{Zone: "us-east-1a"}, true},
		{"subset of tags", Filter{Tags: []string{"v1"}}, true},
		{"tag not present", Filter{Tags: []string{"v2"}}, false},
		{"matching metadata", Filter{Metadata: map[string]interface{}{"region": "us-east"}}, true},
		{"mismatched metadata", Filter{Metadata: map[string]interface{}{"region": "us-west"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(inst))
		})
	}
}

func TestOnlyUp(t *testing.T) {
	up := NewInstance("orders", "10.0.0.1", 8080)
	up.Status = StatusUp
	down := NewInstance("orders", "10.0.0.2", 8080)
	down.Status = StatusDown

	result := OnlyUp([]*Instance{up, down})
	require.Len(t, result, 1)
	assert.Equal(t, up.ID, result[0].ID)
}
