package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/require"
)

func TestScrubEventRedactsSensitiveTags(t *testing.T) {
	event := &sentry.Event{
		Tags: map[string]string{
			"environment": "production",
			"token":       "secret-value",
			"password":    "hunter2",
		},
	}

	result := scrubEvent(event, nil)

	require.Equal(t, "production", result.Tags["environment"])
	require.Equal(t, "[Filtered]", result.Tags["token"])
	require.Equal(t, "[Filtered]", result.Tags["password"])
}

func TestScrubEventStripsRequestBody(t *testing.T) {
	event := &sentry.Event{
		Request: &sentry.Request{Data: `{"secret":"abc"}`},
	}

	result := scrubEvent(event, nil)

	require.Empty(t, result.Request.Data)
}

func TestInitNoopWithoutDSN(t *testing.T) {
	require.NoError(t, Init("", "test"))
}

func TestCaptureIgnoresNilError(t *testing.T) {
	require.NotPanics(t, func() { Capture(nil) })
}
