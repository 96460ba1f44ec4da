package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/metrics"
)

var hintReplacer = strings.NewReplacer(
	":", "_",
	" ", "_",
	`\`, "_",
	"/", "_",
	"<", "_",
	">", "_",
	",", "_",
	".", "_",
)

// SanitizeHint makes a hint name usable as a file name.
func SanitizeHint(hint string) string {
	return hintReplacer.Replace(hint)
}

// OutputFile returns where an artifact is written:
// <root>/<generator>/<sanitized hint>.g.<ext>.
func OutputFile(root, generatorName, hint, ext string) string {
	return filepath.Join(root, SanitizeHint(generatorName), SanitizeHint(hint)+".g."+strings.TrimPrefix(ext, "."))
}

type writer struct {
	recorder metrics.Recorder
	logger   *slog.Logger
}

// write stores text at path unless the file already holds exactly text.
// It reports whether the file was written.
func (w *writer) write(ctx context.Context, path, text string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if existing, err := os.ReadFile(path); err == nil &&
		xxhash.Sum64(existing) == xxhash.Sum64String(text) &&
		string(existing) == text {
		w.recorder.IncArtifact(metrics.WriteUnchanged)
		w.logger.Info("Skipping generated file with same content", logfields.Path(path))
		return false, nil
	} else if err == nil {
		w.logger.Info("Overwriting generated file with different content", logfields.Path(path))
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create output directory").
			WithContext("path", dir).Build()
	}
	if err := writeAtomic(dir, path, text); err != nil {
		return false, ferrors.WrapError(err, ferrors.CategoryFileSystem, "write generated file").
			WithContext("path", path).Build()
	}
	w.recorder.IncArtifact(metrics.WriteWritten)
	return true, nil
}

// writeAtomic replaces path through a temporary file in the same directory,
// so readers never observe a partially written file.
func writeAtomic(dir, path, text string) error {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
