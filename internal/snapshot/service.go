// Package snapshot keeps a git history of every settings document per
// measurement domain. Drafts live on their own branches; main tracks the
// active lineage. The history backs changed-key diffs for previews and the
// audit trail's "what did this activation ship" view.
package snapshot

import (
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
)

const settingsFile = "settings.json"

// CommitInfo is a trimmed view of a settings commit.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

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

// EnsureDomainRepo initializes the domain's history with the template
// document on main. Idempotent.
func (s *Service) EnsureDomainRepo(domain string, template map[string]any, author string) error {
	lock := s.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(domain)
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

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal template settings: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, settingsFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write template settings: %w", err)
	}
	if _, err := worktree.Add(settingsFile); err != nil {
		return fmt.Errorf("git add template settings: %w", err)
	}
	hash, err := worktree.Commit("Import settings baseline", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit template settings: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitDraft records a draft's settings on its own branch, forked from
// main on first write.
func (s *Service) CommitDraft(domain, versionID string, settings map[string]any, author, message string) (CommitInfo, error) {
	lock := s.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(domain))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	branch := draftBranch(versionID)
	if err := ensureBranch(repo, branch, "main"); err != nil {
		return CommitInfo{}, err
	}

	hash, err := s.commit(repo, branch, settings, author, message, false)
	if err != nil {
		return CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// PromoteToMain copies the draft branch head onto main when a version is
// activated. The commit message records the actor and version.
func (s *Service) PromoteToMain(domain, versionID, author, message string) (CommitInfo, error) {
	lock := s.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(domain))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	branch := draftBranch(versionID)
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("resolve draft branch %s: %w", branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return CommitInfo{}, fmt.Errorf("load draft commit object: %w", err)
	}
	settings, err := readSettingsFromCommit(commitObj)
	if err != nil {
		return CommitInfo{}, err
	}

	promoteMessage := fmt.Sprintf("%s\n\npromote: version=%s actor=%s", message, versionID, author)
	hash, err := s.commit(repo, "main", settings, author, promoteMessage, true)
	if err != nil {
		return CommitInfo{}, err
	}
	promoted, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read promote commit object: %w", err)
	}
	return toCommitInfo(promoted), nil
}

// HeadSettings returns the settings document at the tip of a branch.
func (s *Service) HeadSettings(domain, branch string) (map[string]any, CommitInfo, error) {
	lock := s.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(domain))
	if err != nil {
		return nil, CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, CommitInfo{}, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}
	settings, err := readSettingsFromCommit(commitObj)
	if err != nil {
		return nil, CommitInfo{}, err
	}
	return settings, toCommitInfo(commitObj), nil
}

// History lists commits on a branch, newest first.
func (s *Service) History(domain, branch string, limit int) ([]CommitInfo, error) {
	lock := s.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(domain))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// TagActivation marks the main commit that went live.
func (s *Service) TagActivation(domain, label string) error {
	lock := s.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(domain))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return fmt.Errorf("resolve main: %w", err)
	}

	_, err = repo.CreateTag(label, ref.Hash(), &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Beacon",
			Email: "beacon@localhost",
			When:  time.Now(),
		},
		Message: label,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

// ChangedKeys flattens both documents to dotted paths and returns the
// sorted set of paths added, removed, or whose value changed.
func ChangedKeys(from, to map[string]any) []string {
	fromFlat := map[string]string{}
	toFlat := map[string]string{}
	flatten("", from, fromFlat)
	flatten("", to, toFlat)

	changed := map[string]bool{}
	for key, before := range fromFlat {
		after, ok := toFlat[key]
		if !ok || before != after {
			changed[key] = true
		}
	}
	for key := range toFlat {
		if _, ok := fromFlat[key]; !ok {
			changed[key] = true
		}
	}

	keys := make([]string, 0, len(changed))
	for key := range changed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, value any, out map[string]string) {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 && prefix != "" {
			out[prefix] = "{}"
			return
		}
		for key, child := range typed {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			flatten(path, child, out)
		}
	case []any:
		if len(typed) == 0 && prefix != "" {
			out[prefix] = "[]"
			return
		}
		for index, child := range typed {
			flatten(fmt.Sprintf("%s.%d", prefix, index), child, out)
		}
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			out[prefix] = fmt.Sprintf("%v", typed)
			return
		}
		out[prefix] = string(encoded)
	}
}

func (s *Service) repoPath(domain string) string {
	return filepath.Join(s.baseDir, domain)
}

func (s *Service) domainLock(domain string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[domain]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[domain] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, branchName string, settings map[string]any, author, message string, allowEmpty bool) (plumbing.Hash, error) {
	if err := checkoutBranch(repo, branchName); err != nil {
		return plumbing.ZeroHash, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal settings: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, settingsFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write settings.json: %w", err)
	}

	if _, err := worktree.Add(settingsFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add settings: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author:            signature(author),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit settings: %w", err)
	}
	return hash, nil
}

func ensureBranch(repo *git.Repository, branchName, fromBranch string) error {
	branchRefName := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRefName, true); err == nil {
		return nil
	}

	fromRef, err := repo.Reference(plumbing.NewBranchReferenceName(fromBranch), true)
	if err != nil {
		return fmt.Errorf("read source branch ref: %w", err)
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRefName, fromRef.Hash())); err != nil {
		return fmt.Errorf("create branch ref: %w", err)
	}
	return nil
}

func checkoutBranch(repo *git.Repository, branchName string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return fmt.Errorf("create branch checkout %s: %w", branchName, err)
			}
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branchName, err)
	}
	return nil
}

func readSettingsFromCommit(commitObj *object.Commit) (map[string]any, error) {
	file, err := commitObj.File(settingsFile)
	if err != nil {
		return nil, fmt.Errorf("load settings.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open settings reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read settings bytes: %w", err)
	}

	var settings map[string]any
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode commit settings: %w", err)
	}
	return settings, nil
}

func draftBranch(versionID string) string {
	return "draft/" + versionID
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.beacon.dev", sanitizeEmail(author)),
		When:  time.Now(),
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
