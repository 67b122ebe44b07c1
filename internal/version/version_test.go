package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	old := Version
	Version = "1.2.3"
	t.Cleanup(func() { Version = old })

	got := String()
	if !strings.HasPrefix(got, "oisignals 1.2.3\n") || !strings.Contains(got, "commit: ") {
		t.Fatalf("String() = %q", got)
	}
}
