// Package localfs provides the default local-filesystem Connector (spec
// §4.7, §6): a sandboxed driver restricted to a configured root directory,
// rejecting path traversal and symlink escapes.
package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Connector implements toolruntime.Connector against a single root
// directory. Every path argument is resolved relative to Root and must
// stay within it after symlink resolution.
type Connector struct {
	Root string
}

// New builds a Connector rooted at root. root is made absolute at
// construction time so later traversal checks are not sensitive to the
// process's working directory changing.
func New(root string) (*Connector, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("localfs: resolve root: %w", err)
	}
	return &Connector{Root: abs}, nil
}

// Name identifies this connector for ToolSpec.Connector matching.
func (c *Connector) Name() string { return "fs" }

// ValidateArgs checks that op is known and that a path argument, when
// required, is present and a string.
func (c *Connector) ValidateArgs(op string, args map[string]any) error {
	switch op {
	case "read_file", "file_info":
		if _, ok := stringArg(args, "path"); !ok {
			return fmt.Errorf("localfs: %s requires a string path argument", op)
		}
	case "write_file":
		if _, ok := stringArg(args, "path"); !ok {
			return fmt.Errorf("localfs: write_file requires a string path argument")
		}
		if _, ok := stringArg(args, "content"); !ok {
			return fmt.Errorf("localfs: write_file requires a string content argument")
		}
	case "list_directory":
		if _, ok := stringArg(args, "path"); !ok {
			return fmt.Errorf("localfs: list_directory requires a string path argument")
		}
	default:
		return fmt.Errorf("localfs: unknown operation %q", op)
	}
	return nil
}

// Execute dispatches to the operation named by op, the tool ID's last path
// segment (spec §4.7 rule 5).
func (c *Connector) Execute(ctx context.Context, op string, args map[string]any) (any, error) {
	if err := c.ValidateArgs(op, args); err != nil {
		return nil, err
	}
	switch op {
	case "read_file":
		path, _ := stringArg(args, "path")
		return c.readFile(path)
	case "write_file":
		path, _ := stringArg(args, "path")
		content, _ := stringArg(args, "content")
		return nil, c.writeFile(path, content)
	case "list_directory":
		path, _ := stringArg(args, "path")
		return c.listDirectory(path)
	case "file_info":
		path, _ := stringArg(args, "path")
		return c.fileInfo(path)
	default:
		return nil, fmt.Errorf("localfs: unknown operation %q", op)
	}
}

// resolve rejects traversal outside Root and resolves symlinks so an escape
// via a symlinked path is caught before any syscall touches it.
func (c *Connector) resolve(rel string) (string, error) {
	if strings.Contains(rel, "\x00") {
		return "", fmt.Errorf("localfs: invalid path")
	}
	joined := filepath.Join(c.Root, rel)
	if !strings.HasPrefix(joined, c.Root+string(filepath.Separator)) && joined != c.Root {
		return "", fmt.Errorf("localfs: path escapes sandbox root: %s", rel)
	}
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist yet (write path); validate the parent instead.
			parent, perr := filepath.EvalSymlinks(filepath.Dir(joined))
			if perr != nil {
				return joined, nil
			}
			if !strings.HasPrefix(parent, c.Root) {
				return "", fmt.Errorf("localfs: path escapes sandbox root: %s", rel)
			}
			return joined, nil
		}
		return "", fmt.Errorf("localfs: resolve path: %w", err)
	}
	if !strings.HasPrefix(resolved, c.Root) {
		return "", fmt.Errorf("localfs: path escapes sandbox root via symlink: %s", rel)
	}
	return resolved, nil
}

func (c *Connector) readFile(rel string) (any, error) {
	path, err := c.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("localfs: read_file: %w", err)
	}
	return string(data), nil
}

// writeFile writes to a temp file in the same directory and renames into
// place, so a failing write never leaves a partial file (spec §4.7 rule 7:
// "connectors must make writes atomic or roll back").
func (c *Connector) writeFile(rel, content string) error {
	path, err := c.resolve(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".localfs-write-*")
	if err != nil {
		return fmt.Errorf("localfs: write_file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("localfs: write_file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localfs: write_file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localfs: write_file: %w", err)
	}
	return nil
}

func (c *Connector) listDirectory(rel string) (any, error) {
	path, err := c.resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("localfs: list_directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (c *Connector) fileInfo(rel string) (any, error) {
	path, err := c.resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("localfs: file_info: %w", err)
	}
	return map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mode":     info.Mode().String(),
		"mod_time": info.ModTime(),
	}, nil
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
