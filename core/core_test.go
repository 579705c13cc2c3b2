package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentID(t *testing.T) {
	tests := []struct {
		in      string
		want    AgentID
		wantErr bool
	}{
		{"", AgentAuto, false},
		{"auto", AgentAuto, false},
		{"incident_response", AgentIncidentResponse, false},
		{"threat_intelligence", AgentThreatIntelligence, false},
		{"prevention", AgentPrevention, false},
		{"firewall_admin", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAgentID(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestAgentID_IsSpecialist(t *testing.T) {
	assert.False(t, AgentAuto.IsSpecialist())
	assert.True(t, AgentIncidentResponse.IsSpecialist())
	assert.True(t, AgentThreatIntelligence.IsSpecialist())
	assert.True(t, AgentPrevention.IsSpecialist())
}

func TestDefaultRegistry_PriorityOrder(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []AgentID{AgentIncidentResponse, AgentThreatIntelligence, AgentPrevention}, r.IDs())
}

func TestRegistry_Remaining(t *testing.T) {
	r := DefaultRegistry()
	rest := r.Remaining(AgentThreatIntelligence)
	assert.Equal(t, []AgentID{AgentIncidentResponse, AgentPrevention}, rest)

	all := r.Remaining()
	assert.Len(t, all, 3)
}

func TestNewRegistry_RejectsInvalidProfiles(t *testing.T) {
	_, err := NewRegistry()
	assert.Error(t, err)

	_, err = NewRegistry(AgentProfile{ID: AgentAuto})
	assert.Error(t, err)

	_, err = NewRegistry(
		AgentProfile{ID: AgentPrevention},
		AgentProfile{ID: AgentPrevention},
	)
	assert.Error(t, err)
}

func TestRegistry_KnowledgeFilterIncludesShared(t *testing.T) {
	r := DefaultRegistry()
	for _, id := range r.IDs() {
		p, ok := r.Get(id)
		require.True(t, ok)
		assert.Contains(t, p.KnowledgeFilter, SharedKnowledgePartition, string(id))
		assert.Contains(t, p.KnowledgeFilter, string(id))
	}
}

func TestCollaboration_Active(t *testing.T) {
	assert.False(t, Collaboration{Mode: ModeSingleAgent}.Active())
	assert.False(t, Collaboration{}.Active())
	assert.True(t, Collaboration{Mode: ModeConsultation}.Active())
	assert.True(t, Collaboration{Mode: ModeMultiPerspective}.Active())
}

func TestQueryState_Trace(t *testing.T) {
	var s QueryState
	s.Trace("routed to incident_response")
	s.Trace("consultation triggered")
	assert.Equal(t, []string{"routed to incident_response", "consultation triggered"}, s.Collaboration.ThoughtProcess)
}
