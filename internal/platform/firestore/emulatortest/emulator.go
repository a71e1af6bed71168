// Package emulatortest starts a disposable Firestore emulator in docker for integration tests.
package emulatortest

import (
	"testing"

	"github.com/stockline/api/internal/platform/testcontainer"
)

const image = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

// Start runs the emulator and returns its host:port. The test is skipped when docker is unavailable.
func Start(t *testing.T) string {
	t.Helper()
	return testcontainer.Run(t, testcontainer.Spec{
		Image: image,
		Port:  8080,
		Command: []string{
			"gcloud", "beta", "emulators", "firestore", "start",
			"--host-port=0.0.0.0:8080",
			"--quiet",
		},
	})
}
