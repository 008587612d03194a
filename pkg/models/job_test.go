package models_test

import (
	"encoding/json"
	"testing"

	"github.com/kiranshivaraju/phototune/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.JobStatus
		want     bool
	}{
		{models.JobStatusPending, models.JobStatusTraining, true},
		{models.JobStatusPending, models.JobStatusFinished, true},
		{models.JobStatusTraining, models.JobStatusFinished, true},
		{models.JobStatusTraining, models.JobStatusFailed, true},
		{models.JobStatusTraining, models.JobStatusUnknown, true},
		{models.JobStatusTraining, models.JobStatusTraining, false},
		{models.JobStatusFinished, models.JobStatusTraining, false},
		{models.JobStatusFinished, models.JobStatusFailed, false},
		{models.JobStatusFailed, models.JobStatusFinished, false},
		{models.JobStatusUnknown, models.JobStatusFinished, false},
		{models.JobStatusTraining, models.JobStatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, models.CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionSources_ReturnsCopy(t *testing.T) {
	src := models.TransitionSources(models.JobStatusFinished)
	src[0] = models.JobStatusFailed

	assert.Equal(t, []models.JobStatus{models.JobStatusPending, models.JobStatusTraining},
		models.TransitionSources(models.JobStatusFinished))
	assert.Empty(t, models.TransitionSources(models.JobStatusPending))
}

func TestMapProviderStatus(t *testing.T) {
	assert.Equal(t, models.JobStatusFinished, models.MapProviderStatus("done"))
	assert.Equal(t, models.JobStatusFailed, models.MapProviderStatus("error"))
	assert.Equal(t, models.JobStatusTraining, models.MapProviderStatus("in_progress"))
	assert.Equal(t, models.JobStatusUnknown, models.MapProviderStatus("queued"))
	assert.Equal(t, models.JobStatusUnknown, models.MapProviderStatus(""))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, models.JobStatusPending.IsTerminal())
	assert.False(t, models.JobStatusTraining.IsTerminal())
	assert.True(t, models.JobStatusFinished.IsTerminal())
	assert.True(t, models.JobStatusFailed.IsTerminal())
	assert.True(t, models.JobStatusUnknown.IsTerminal())
}

func TestExternalID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want models.ExternalID
	}{
		{"string", `{"id":"R1"}`, "R1"},
		{"number", `{"id":1504944}`, "1504944"},
		{"large number", `{"id":9007199254740993}`, "9007199254740993"},
		{"null", `{"id":null}`, ""},
		{"missing", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v struct {
				ID models.ExternalID `json:"id"`
			}
			require.NoError(t, json.Unmarshal([]byte(tt.in), &v))
			assert.Equal(t, tt.want, v.ID)
		})
	}
}

func TestExternalID_RejectsObjects(t *testing.T) {
	var v struct {
		ID models.ExternalID `json:"id"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"id":{"a":1}}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"id":true}`), &v))
}
