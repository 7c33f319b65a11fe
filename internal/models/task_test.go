package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTask() Task {
	return Task{
		Name: "nightly-sample",
		Type: TaskSampleImage,
		Cron: "0 3 * * *",
		Config: TaskConfig{
			InputPath: "/data/captures",
		},
	}
}

func TestTaskValidateSampleRate(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		wantErr bool
	}{
		{"zero means default rate", 0, false},
		{"fractional rate", 0.25, false},
		{"full rate", 1, false},
		{"negative rate", -0.1, true},
		{"rate above one", 1.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := sampleTask()
			task.Config.SampleRate = tt.rate

			err := task.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "sample_rate")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTaskValidateSampleRateIgnoredForBatch(t *testing.T) {
	// Only sample_image tasks read the rate, so a stray value on a
	// batch task is not an error.
	task := sampleTask()
	task.Type = TaskBatchImage
	task.Config.SampleRate = 7

	assert.NoError(t, task.Validate())
}
