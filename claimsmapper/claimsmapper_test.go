package claimsmapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/providerclient"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDefaultMapper_MapAdult(t *testing.T) {
	m := NewDefaultMapper("demo-eid")
	m.NowFn = fixedClock(time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC))

	resp := providerclient.SessionResponse{
		Claims: map[string]any{
			"dateOfBirth": "2000-06-15",
			"subject":     map[string]any{"id": "subject-123"},
			"assurance":   "high",
		},
	}

	mapped, err := m.Map(resp)
	require.NoError(t, err)
	assert.True(t, mapped.IsAdult)
	assert.Equal(t, "subject-123", mapped.SubjectID)
	assert.Equal(t, "demo-eid", mapped.ProviderID)
}

func TestDefaultMapper_BirthdayNotYetReachedThisYear(t *testing.T) {
	m := NewDefaultMapper("demo-eid")
	// Turns 18 on 2026-08-01; "today" is ten days before that.
	m.NowFn = fixedClock(time.Date(2026, 7, 22, 0, 0, 0, 0, time.UTC))

	resp := providerclient.SessionResponse{
		Claims: map[string]any{
			"dateOfBirth": "2008-08-01",
			"subject":     map[string]any{"id": "subject-456"},
		},
	}

	mapped, err := m.Map(resp)
	require.NoError(t, err)
	assert.False(t, mapped.IsAdult)
}

func TestDefaultMapper_MissingDateOfBirth(t *testing.T) {
	m := NewDefaultMapper("demo-eid")
	_, err := m.Map(providerclient.SessionResponse{Claims: map[string]any{
		"subject": map[string]any{"id": "subject-789"},
	}})
	require.Error(t, err)
	assert.Equal(t, apperr.MissingAttribute, apperr.CodeOf(err))
}

func TestDefaultMapper_MalformedDateOfBirth(t *testing.T) {
	m := NewDefaultMapper("demo-eid")
	_, err := m.Map(providerclient.SessionResponse{Claims: map[string]any{
		"dateOfBirth": "15/06/2000",
		"subject":     map[string]any{"id": "subject-789"},
	}})
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidDateFormat, apperr.CodeOf(err))
}

func TestDefaultMapper_MissingSubjectID(t *testing.T) {
	m := NewDefaultMapper("demo-eid")
	_, err := m.Map(providerclient.SessionResponse{Claims: map[string]any{
		"dateOfBirth": "2000-06-15",
	}})
	require.Error(t, err)
	assert.Equal(t, apperr.MissingSubjectID, apperr.CodeOf(err))
}

func TestValidSubjectID(t *testing.T) {
	assert.True(t, ValidSubjectID("abc-123_XYZ"))
	assert.False(t, ValidSubjectID(""))
	assert.False(t, ValidSubjectID("has a space"))
	assert.False(t, ValidSubjectID("semi;colon"))
}

func TestValidSubjectID_TooLong(t *testing.T) {
	long := make([]byte, 257)
	for i := range long {
		long[i] = 'a'
	}
	assert.False(t, ValidSubjectID(string(long)))
}
