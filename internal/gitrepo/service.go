// Package gitrepo keeps the version history of each document as a git
// repository holding a single content.json with the document's fields and
// its annotations field.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/persist"
)

const (
	mainBranch  = "main"
	contentFile = "content.json"
)

// Content is one saved version of a document.
type Content struct {
	Title       string                     `json:"title"`
	Fields      map[string]json.RawMessage `json:"fields"`
	Annotations persist.FieldValue         `json:"annotations"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Change is one difference between two versions.
type Change struct {
	Field  string `json:"field"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// ErrUnknownVersion is returned when a hash does not name a commit of the
// document's repository.
var ErrUnknownVersion = errors.New("unknown version")

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureDocumentRepo creates the document's repository with initial as its
// first commit. Existing repositories are left alone.
func (s *Service) EnsureDocumentRepo(documentID string, initial Content, author string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	if _, err := s.commit(repo, initial, author, "Create document"); err != nil {
		return err
	}
	return nil
}

// CommitContent records content as a new version. When nothing differs
// from the current head no commit is made and the head is returned with
// created set to false.
func (s *Service) CommitContent(documentID string, content Content, author, message string) (CommitInfo, bool, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("open repo: %w", err)
	}

	head, err := headCommit(repo)
	if err != nil {
		return CommitInfo{}, false, err
	}
	current, err := readContentFromCommit(head)
	if err != nil {
		return CommitInfo{}, false, err
	}
	if !HasChanges(current, content) {
		return toCommitInfo(head), false, nil
	}

	hash, err := s.commit(repo, content, author, message)
	if err != nil {
		return CommitInfo{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("load commit object: %w", err)
	}
	return toCommitInfo(commitObj), true, nil
}

func (s *Service) GetHeadContent(documentID string) (Content, CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Content{}, CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	return content, toCommitInfo(commitObj), nil
}

func (s *Service) GetContentByHash(documentID, hash string) (Content, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Content{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return Content{}, fmt.Errorf("read commit %s: %w", hash, ErrUnknownVersion)
		}
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContentFromCommit(commitObj)
}

// History lists versions newest first. limit <= 0 returns all of them.
func (s *Service) History(documentID string, limit int) ([]CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	if content.Annotations.Entries == nil {
		content.Annotations.Entries = []persist.Entry{}
	}
	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write content.json: %w", err)
	}

	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@annotations.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load content.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}

	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// Diff lists what changed between two versions: the title, each field
// whose nodes differ, and threads or suggestions added or removed.
func Diff(from, to Content) []Change {
	changes := make([]Change, 0)
	if from.Title != to.Title {
		changes = append(changes, Change{Field: "title", Kind: "modified"})
	}
	for _, path := range fieldPaths(from, to) {
		before, inBefore := from.Fields[path]
		after, inAfter := to.Fields[path]
		switch {
		case !inBefore:
			changes = append(changes, Change{Field: path, Kind: "added"})
		case !inAfter:
			changes = append(changes, Change{Field: path, Kind: "removed"})
		case !bytes.Equal(normalizeJSON(before), normalizeJSON(after)):
			changes = append(changes, Change{Field: path, Kind: "modified"})
		}
	}

	beforeStates := persist.FromEntries(from.Annotations.Entries)
	afterStates := persist.FromEntries(to.Annotations.Entries)
	for _, path := range statePaths(beforeStates, afterStates) {
		changes = append(changes, annotationChanges(path, beforeStates[path], afterStates[path])...)
	}
	return changes
}

func HasChanges(from, to Content) bool {
	if from.Title != to.Title {
		return true
	}
	if len(from.Fields) != len(to.Fields) {
		return true
	}
	for path, before := range from.Fields {
		after, ok := to.Fields[path]
		if !ok || !bytes.Equal(normalizeJSON(before), normalizeJSON(after)) {
			return true
		}
	}
	return !persist.EntriesEqual(from.Annotations.Entries, to.Annotations.Entries)
}

func annotationChanges(path string, before, after annotation.State) []Change {
	var changes []Change
	for _, id := range changedIDs(before.Comments, after.Comments) {
		_, was := before.Comments[id]
		thread, is := after.Comments[id]
		switch {
		case !was:
			changes = append(changes, Change{Field: path, Kind: "thread_added", Detail: string(id)})
		case !is:
			changes = append(changes, Change{Field: path, Kind: "thread_removed", Detail: string(id)})
		case !annotation.ThreadsEqual(before.Comments[id], thread):
			changes = append(changes, Change{Field: path, Kind: "thread_updated", Detail: string(id)})
		}
	}
	for _, id := range changedIDs(before.Suggestions, after.Suggestions) {
		_, was := before.Suggestions[id]
		_, is := after.Suggestions[id]
		switch {
		case !was:
			changes = append(changes, Change{Field: path, Kind: "suggestion_added", Detail: string(id)})
		case !is:
			changes = append(changes, Change{Field: path, Kind: "suggestion_removed", Detail: string(id)})
		}
	}
	return changes
}

func changedIDs[V any](before, after map[annotation.ID]V) []annotation.ID {
	seen := map[annotation.ID]struct{}{}
	for id := range before {
		seen[id] = struct{}{}
	}
	for id := range after {
		seen[id] = struct{}{}
	}
	ids := make([]annotation.ID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func fieldPaths(from, to Content) []string {
	seen := map[string]struct{}{}
	for path := range from.Fields {
		seen[path] = struct{}{}
	}
	for path := range to.Fields {
		seen[path] = struct{}{}
	}
	return sortedKeys(seen)
}

func statePaths(before, after map[string]annotation.State) []string {
	seen := map[string]struct{}{}
	for path := range before {
		seen[path] = struct{}{}
	}
	for path := range after {
		seen[path] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func normalizeJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil
	}
	return normalized
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, ErrUnknownVersion)
	}
	return *resolved, nil
}
