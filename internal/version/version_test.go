package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldV, oldSHA := Version, GitSHA
	t.Cleanup(func() { Version, GitSHA = oldV, oldSHA })
	Version, GitSHA = "v0.3.1", "abc1234"

	got := String()
	for _, want := range []string{"scenecapture v0.3.1", "commit abc1234", "built unknown", "go"} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
}
