// Package gitrepo resolves file content at the reviewed commit from local
// clones, so a session's active file can carry content and language in the
// snapshot instead of a bare name.
package gitrepo

import (
	"fmt"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"reviewhub/api/internal/store"
)

// Service reads files out of clones laid out as <baseDir>/<org>/<repo>.
type Service struct {
	baseDir string
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir}
}

// LoadFileAt returns the file's content and detected language at the given
// commit. Errors mean "content unavailable", never fatal: the caller keeps
// the name-only active file.
func (s *Service) LoadFileAt(repository, commitSHA, fileName string) (store.ActiveFile, error) {
	path, err := s.repoPath(repository)
	if err != nil {
		return store.ActiveFile{}, err
	}

	repo, err := git.PlainOpen(path)
	if err != nil {
		return store.ActiveFile{}, fmt.Errorf("open repo %s: %w", repository, err)
	}

	commit, err := repo.CommitObject(plumbing.NewHash(commitSHA))
	if err != nil {
		return store.ActiveFile{}, fmt.Errorf("resolve commit %s: %w", commitSHA, err)
	}

	file, err := commit.File(fileName)
	if err != nil {
		return store.ActiveFile{}, fmt.Errorf("file %s at %s: %w", fileName, commitSHA, err)
	}

	contents, err := file.Contents()
	if err != nil {
		return store.ActiveFile{}, fmt.Errorf("read %s: %w", fileName, err)
	}

	return store.ActiveFile{
		Name:     fileName,
		Content:  contents,
		Language: languageFor(fileName),
	}, nil
}

func (s *Service) repoPath(repository string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(repository))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid repository name %q", repository)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

var languages = map[string]string{
	".go":    "go",
	".cs":    "csharp",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".rb":    "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".css":   "css",
	".html":  "html",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".sql":   "sql",
	".sh":    "shell",
	".md":    "markdown",
	".swift": "swift",
	".php":   "php",
}

func languageFor(fileName string) string {
	if lang, ok := languages[strings.ToLower(filepath.Ext(fileName))]; ok {
		return lang
	}
	return "plaintext"
}
