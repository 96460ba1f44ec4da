package transport

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// MaxSocketPathLength is the smallest sun_path limit among supported platforms.
const MaxSocketPathLength = 104

// socketPathSlack is reserved for the lock-file suffixes derived from a pipe name.
const socketPathSlack = 10

// ErrPipePathTooLong is returned when the socket path would not fit sun_path.
var ErrPipePathTooLong = errors.New("transport: pipe path too long")

// BasePipeName hashes dir into a short, filename-safe token.
func BasePipeName(dir string) string {
	dir = strings.TrimRight(dir, string(filepath.Separator))
	sum := sha256.Sum256([]byte(dir))
	enc := base64.StdEncoding.EncodeToString(sum[:])[:10]
	enc = strings.ReplaceAll(enc, "/", "_")
	return strings.ReplaceAll(enc, "=", "")
}

// PipeName returns the channel address for a client directory, salted with
// the current user and elevation.
func PipeName(clientDir string) (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	name := u.Username
	if name == "" {
		return "", errors.New("transport: empty user name")
	}
	// Windows-style DOMAIN\user names are not valid in a file name.
	name = strings.ReplaceAll(name, `\`, "_")
	return FormatPipeName(name, os.Geteuid() == 0, BasePipeName(clientDir)), nil
}

// FormatPipeName joins the user, elevation flag and base token.
func FormatPipeName(userName string, elevated bool, base string) string {
	flag := "F"
	if elevated {
		flag = "T"
	}
	return userName + "." + flag + "." + base
}

// IsPipePathTooLong reports whether a socket for pipeName under tmpDir would
// exceed MaxSocketPathLength.
func IsPipePathTooLong(pipeName, tmpDir string) bool {
	return len(tmpDir)+1+len(pipeName)+socketPathSlack > MaxSocketPathLength
}

// SocketPath returns the socket file for pipeName under tmpDir.
func SocketPath(tmpDir, pipeName string) string {
	return filepath.Join(tmpDir, pipeName)
}

// ServerLockPath returns the file backing the single-instance server mutex.
func ServerLockPath(tmpDir, pipeName string) string {
	return filepath.Join(tmpDir, pipeName+".server.lock")
}

// ClientLockPath returns the file backing the client spawn mutex.
func ClientLockPath(tmpDir, pipeName string) string {
	return filepath.Join(tmpDir, pipeName+".client")
}

// ResolveSocketPath validates the pipe name and returns its socket path.
func ResolveSocketPath(tmpDir, pipeName string) (string, error) {
	if pipeName == "" || strings.ContainsRune(pipeName, filepath.Separator) {
		return "", fmt.Errorf("transport: invalid pipe name %q", pipeName)
	}
	if IsPipePathTooLong(pipeName, tmpDir) {
		return "", fmt.Errorf("%w: %s", ErrPipePathTooLong, SocketPath(tmpDir, pipeName))
	}
	return SocketPath(tmpDir, pipeName), nil
}
