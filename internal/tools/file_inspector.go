package tools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultPreviewChars is the preview length when none is configured.
const DefaultPreviewChars = 200

// maxInspectBytes bounds how much of a file is read for line counting.
const maxInspectBytes = 10 << 20

// FileInspectorTool reports size, line count, extension and a short preview of a file.
type FileInspectorTool struct {
	root         string
	previewChars int
}

// NewFileInspectorTool creates the tool. A non-empty root confines paths to that directory.
func NewFileInspectorTool(root string, previewChars int) *FileInspectorTool {
	if previewChars <= 0 {
		previewChars = DefaultPreviewChars
	}
	if root != "" {
		root = expandPath(root)
	}
	return &FileInspectorTool{root: root, previewChars: previewChars}
}

func (t *FileInspectorTool) Name() string { return "file_inspector" }

func (t *FileInspectorTool) Description() string {
	return "Inspect a file: returns its size in bytes, line count, extension and a short preview of its content."
}

func (t *FileInspectorTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path of the file to inspect",
			},
		},
		"required": []string{"path"},
	}
}

func (t *FileInspectorTool) Execute(ctx context.Context, params map[string]any) Result {
	path := GetString(params, "path", "")
	if path == "" {
		return ErrorResult("path is required")
	}
	path = expandPath(path)
	if t.root != "" && !isWithin(t.root, path) {
		return ErrorResult("path outside allowed root: %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{"path": path, "error": describeFileError(path, err)}
	}
	if info.IsDir() {
		return Result{"path": path, "error": "path is a directory"}
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{"path": path, "error": describeFileError(path, err)}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxInspectBytes))
	if err != nil {
		return Result{"path": path, "error": "read failed: " + err.Error()}
	}

	lines := bytes.Count(data, []byte{'\n'})
	if len(data) > 0 && data[len(data)-1] != '\n' {
		lines++
	}

	return Result{
		"path":      path,
		"size":      info.Size(),
		"lines":     lines,
		"extension": filepath.Ext(path),
		"preview":   preview(data, t.previewChars),
		"truncated": info.Size() > maxInspectBytes,
	}
}

func describeFileError(path string, err error) string {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "file not found: " + path
	case errors.Is(err, os.ErrPermission):
		return "permission denied: " + path
	default:
		return err.Error()
	}
}

// preview returns at most n runes of data, replacing invalid UTF-8.
func preview(data []byte, n int) string {
	s := strings.ToValidUTF8(string(data), "�")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
