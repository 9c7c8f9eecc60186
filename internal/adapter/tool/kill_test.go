package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nu-mcp/internal/domain"
)

func TestKillTool_KillThenNotFound(t *testing.T) {
	f := newProcessFixture(t)
	id := startJob(t, f, "sleep 30")
	kill := NewKillTool(f.registry, f.audit, nopLogger())

	res := run(t, kill, `{"id":"`+id+`"}`)
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "ID: "+id+"\nStatus: killed\nCommand: sleep 30", res.Content)

	res = run(t, kill, `{"id":"`+id+`"}`)
	assert.True(t, res.IsError)
	assert.Equal(t, string(domain.CodeProcessNotFound), res.Code)

	var kills []domain.AuditEvent
	for _, e := range f.audit.Events() {
		if e.Type == domain.AuditJobKill {
			kills = append(kills, e)
		}
	}
	require.Len(t, kills, 1)
	assert.Equal(t, "killed", kills[0].Outcome)
}

func TestJobsTool_List(t *testing.T) {
	f := newProcessFixture(t)
	jobs := NewJobsTool(f.registry, nopLogger())

	res := run(t, jobs, `{}`)
	assert.Equal(t, "No background jobs.", res.Content)

	id := startJob(t, f, "sleep 30")
	res = run(t, jobs, `{}`)
	assert.Contains(t, res.Content, id)
	assert.Contains(t, res.Content, "running")
	assert.Contains(t, res.Content, "sleep 30")
}
