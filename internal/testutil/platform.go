package testutil

import (
	"os"
	"runtime"
	"testing"
)

// Platform describes the environment the tests run in.
type Platform struct {
	IsWindows bool
	IsRoot    bool
	UID       int
}

// DetectPlatform inspects the current process.
func DetectPlatform(t testing.TB) Platform {
	t.Helper()
	uid := os.Geteuid()
	return Platform{
		IsWindows: runtime.GOOS == "windows",
		IsRoot:    uid == 0,
		UID:       uid,
	}
}

// SkipUnlessPermissionsEnforced skips tests that rely on chmod denying
// access, which neither root nor Windows honours.
func SkipUnlessPermissionsEnforced(t testing.TB) {
	t.Helper()
	p := DetectPlatform(t)
	switch {
	case p.IsWindows:
		t.Skip("file mode permissions are not enforced on windows")
	case p.IsRoot:
		t.Skipf("running as uid %d, which bypasses file permissions", p.UID)
	}
}
