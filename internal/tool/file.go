package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"clawgate/internal/domain"
	"clawgate/internal/security"
)

// --- FileReadTool ---

// FileReadTool reads a file inside the workspace.
type FileReadTool struct {
	policy *security.Policy
}

func NewFileReadTool(policy *security.Policy) *FileReadTool {
	return &FileReadTool{policy: policy}
}

func (t *FileReadTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "file_read",
		Description: "Read the contents of a file. Provide the file path relative to the workspace.",
		Parameters: Schema(
			map[string]Param{
				"path": {Type: "string", Description: "File path to read (relative to workspace)"},
			},
			[]string{"path"},
		),
	}
}

func (t *FileReadTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	path := StringArg(args, "path")
	if path == "" {
		return domain.Errorf("missing argument: path")
	}
	resolved, err := t.policy.ValidatePath(path, true)
	if err != nil {
		return domain.Errorf("%v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return domain.Errorf("read file: %v", err)
	}
	return domain.OK(string(data))
}

// --- FileWriteTool ---

// FileWriteTool writes content to a file, creating parent directories as needed.
type FileWriteTool struct {
	policy *security.Policy
}

func NewFileWriteTool(policy *security.Policy) *FileWriteTool {
	return &FileWriteTool{policy: policy}
}

func (t *FileWriteTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "file_write",
		Description: "Write content to a file. Creates the file if it does not exist; overwrites if it exists.",
		Parameters: Schema(
			map[string]Param{
				"path":    {Type: "string", Description: "File path to write (relative to workspace)"},
				"content": {Type: "string", Description: "Content to write to the file"},
			},
			[]string{"path", "content"},
		),
		Dangerous: true,
	}
}

func (t *FileWriteTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	path := StringArg(args, "path")
	if path == "" {
		return domain.Errorf("missing argument: path")
	}
	content := StringArg(args, "content")
	if err := t.policy.CheckRateLimit("file_write"); err != nil {
		return domain.Errorf("%v", err)
	}

	resolved, err := t.policy.ValidatePath(path, false)
	if err != nil {
		return domain.Errorf("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return domain.Errorf("create directory: %v", err)
	}
	// Check again now that the parent chain exists and can be resolved.
	if resolved, err = t.policy.ValidatePath(path, false); err != nil {
		return domain.Errorf("%v", err)
	}
	if fi, err := os.Lstat(resolved); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return domain.Errorf("target is a symlink: %s", path)
	}

	f, err := os.OpenFile(resolved, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|openNoFollow, 0o644)
	if err != nil {
		return domain.Errorf("open file: %v", err)
	}
	n, err := f.WriteString(content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return domain.Errorf("write file: %v", err)
	}
	return domain.OK(fmt.Sprintf("Wrote %d bytes to %s", n, t.relative(resolved)))
}

func (t *FileWriteTool) relative(abs string) string {
	if rel, err := filepath.Rel(t.policy.Workspace(), abs); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return abs
}

// --- ListDirTool ---

// ListDirTool lists files and directories at a given path.
type ListDirTool struct {
	policy *security.Policy
}

func NewListDirTool(policy *security.Policy) *ListDirTool {
	return &ListDirTool{policy: policy}
}

func (t *ListDirTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "list_dir",
		Description: "List files and directories at the given path. Use '.' or empty for the workspace root.",
		Parameters: Schema(
			map[string]Param{
				"path": {Type: "string", Description: "Directory path to list (use '.' for the workspace root)"},
			},
			nil,
		),
	}
}

func (t *ListDirTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	path := StringArg(args, "path")
	if path == "" {
		path = "."
	}
	resolved, err := t.policy.ValidatePath(path, false)
	if err != nil {
		return domain.Errorf("%v", err)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return domain.Errorf("list dir: %v", err)
	}
	if len(entries) == 0 {
		return domain.OK("(empty directory)")
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			lines = append(lines, e.Name()+"/")
			continue
		}
		size := ""
		if info, err := e.Info(); err == nil {
			size = fmt.Sprintf(" %d", info.Size())
		}
		lines = append(lines, e.Name()+size)
	}
	return domain.OK(strings.Join(lines, "\n"))
}

// Compile-time interface checks.
var (
	_ domain.Tool = (*FileReadTool)(nil)
	_ domain.Tool = (*FileWriteTool)(nil)
	_ domain.Tool = (*ListDirTool)(nil)
)
