package fs

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"localdocs/internal/port"
)

// Walker finds indexable documents under a root directory.
type Walker struct {
	extensions map[string]bool
	excludes   []string
	ignoreFile string
}

// NewWalker returns a walker keeping files with one of extensions (matched
// case-insensitively), skipping doublestar excludes and the rules of
// ignoreFile when it exists in the walked root.
func NewWalker(extensions, excludes []string, ignoreFile string) *Walker {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Walker{
		extensions: exts,
		excludes:   excludes,
		ignoreFile: ignoreFile,
	}
}

func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	var files []port.FileInfo

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var rules *IgnoreRules
	if w.ignoreFile != "" {
		rules, err = LoadIgnoreFile(filepath.Join(root, w.ignoreFile))
		if err != nil {
			return nil, err
		}
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if relPath == "." {
				return nil
			}
			if w.shouldExclude(relPath+"/") || rules.Ignored(relPath, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if w.shouldExclude(relPath) || rules.Ignored(relPath, false) {
			return nil
		}

		files = append(files, port.FileInfo{
			Path:    path,
			RelPath: relPath,
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
		return nil
	})

	return files, err
}

// Accepts reports whether Walk(root) would return the file at relPath.
func (w *Walker) Accepts(root, relPath string) (bool, error) {
	relPath = filepath.ToSlash(relPath)
	if !w.extensions[strings.ToLower(filepath.Ext(relPath))] {
		return false, nil
	}

	var rules *IgnoreRules
	if w.ignoreFile != "" {
		var err error
		rules, err = LoadIgnoreFile(filepath.Join(root, w.ignoreFile))
		if err != nil {
			return false, err
		}
	}

	if w.shouldExclude(relPath) || rules.Ignored(relPath, false) {
		return false, nil
	}
	for dir := parentDir(relPath); dir != ""; dir = parentDir(dir) {
		if w.shouldExclude(dir+"/") || rules.Ignored(dir, true) {
			return false, nil
		}
	}
	return true, nil
}

// SkipDir reports whether Walk(root) would skip the directory at relPath.
func (w *Walker) SkipDir(root, relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	if relPath == "." || relPath == "" {
		return false
	}
	if w.shouldExclude(relPath + "/") {
		return true
	}
	if w.ignoreFile == "" {
		return false
	}
	rules, err := LoadIgnoreFile(filepath.Join(root, w.ignoreFile))
	return err == nil && rules.Ignored(relPath, true)
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

type ignoreRule struct {
	pattern string
	negate  bool
	dirOnly bool
}

// IgnoreRules holds gitignore-style patterns: `#` comments, `!` negation,
// trailing `/` for directories, and patterns without a slash matching at any
// depth. The last matching rule wins.
type IgnoreRules struct {
	rules []ignoreRule
}

// LoadIgnoreFile reads rules from path. A missing file yields no rules.
func LoadIgnoreFile(path string) (*IgnoreRules, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &IgnoreRules{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ParseIgnore(lines), nil
}

func ParseIgnore(lines []string) *IgnoreRules {
	r := &IgnoreRules{}
	for _, line := range lines {
		line = strings.TrimSpace(strings.ReplaceAll(line, `\`, "/"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var rule ignoreRule
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			rule.dirOnly = true
			line = strings.TrimRight(line, "/")
		}

		if strings.HasPrefix(line, "/") {
			line = strings.TrimPrefix(line, "/")
		} else if !strings.Contains(line, "/") && !strings.HasPrefix(line, "**") {
			line = "**/" + line
		}
		if line == "" {
			continue
		}

		rule.pattern = line
		r.rules = append(r.rules, rule)
	}
	return r
}

// Ignored reports whether the slash separated relative path is ignored. A nil
// receiver ignores nothing.
func (r *IgnoreRules) Ignored(relPath string, isDir bool) bool {
	if r == nil {
		return false
	}

	ignored := false
	for _, rule := range r.rules {
		if rule.matches(relPath, isDir) {
			ignored = !rule.negate
		}
	}
	return ignored
}

func (rule ignoreRule) matches(relPath string, isDir bool) bool {
	if matched, _ := doublestar.Match(rule.pattern, relPath); matched {
		return isDir || !rule.dirOnly
	}
	if rule.dirOnly || !isDir {
		// a directory rule also covers everything below it
		for dir := parentDir(relPath); dir != ""; dir = parentDir(dir) {
			if matched, _ := doublestar.Match(rule.pattern, dir); matched {
				return true
			}
		}
	}
	return false
}

func parentDir(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
