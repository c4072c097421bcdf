package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_NilProvider(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background(), nil))
}

func TestRecordHelpers_NoProvider(t *testing.T) {
	// With no meter provider installed the global meter is a no-op.
	assert.NotPanics(t, func() {
		RecordSkillDelta(context.Background(), 2)
		RecordLearningRun(context.Background(), "outcome", true)
	})
}
