package version

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Version contains the application version information.
// This should be set via build-time ldflags in production:
// go build -ldflags "-X git.home.luguber.info/inful/srcgenhost/internal/version.Version=v1.4.0".
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "<developer build>"
)

// CompatibilityHash identifies the build of the host for the wire handshake.
// Client and server must agree on it before any generation request is parsed.
func CompatibilityHash() string {
	if GitCommit != "" && !strings.HasPrefix(GitCommit, "<") {
		return GitCommit
	}
	sum := sha256.Sum256([]byte(Version + "|" + BuildTime + "|" + GitCommit))
	return hex.EncodeToString(sum[:8])
}
