package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseProperties(t *testing.T) {
	props := baseProperties()

	assert.Contains(t, props, "os")
	assert.Contains(t, props, "arch")
	assert.Contains(t, props, "version")
	assert.Equal(t, true, props["dev_build"], "unit tests run without a release version")
	assert.Equal(t, false, props["prerelease"])
}

func TestAppLifecycleEvents(t *testing.T) {
	fake := &fakePosthog{}
	client := newPosthogClient(fake, "install-1")

	client.TrackAppStarted("server", 3)
	client.TrackAppExited("server", 1500)
	client.TrackCLICommandExecuted("trophysync sync quick", true, 80)
	client.TrackCLIHelpViewed("sync", []string{"sync", "--help"})

	events := make([]string, 0, len(fake.captures))
	for _, c := range fake.captures {
		events = append(events, c.Event)
	}
	assert.Equal(t, []string{EventAppStarted, EventAppExited, EventCLICommandExecuted, EventCLIHelpViewed}, events)
	assert.Equal(t, 3, fake.captures[0].Properties["linked_users"])
	assert.Equal(t, int64(1500), fake.captures[1].Properties["session_duration_ms"])
	assert.Equal(t, true, fake.captures[2].Properties["has_flags"])
	assert.Equal(t, 2, fake.captures[3].Properties["arg_count"])
}
