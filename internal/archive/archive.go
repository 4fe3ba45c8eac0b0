// Package archive keeps an append-only git history of every draft. Each
// submission commits an updated manifest.json to the draft's repository.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"thesisflow/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	manifestFile = "manifest.json"
	branch       = "main"
)

var ErrNoHistory = errors.New("draft has no archived history")

type Manifest struct {
	DraftID        string          `json:"draftId"`
	ConversationID string          `json:"conversationId"`
	Title          string          `json:"title"`
	Versions       []ManifestEntry `json:"versions"`
}

type ManifestEntry struct {
	VersionID   string    `json:"versionId"`
	Number      int       `json:"number"`
	FileName    string    `json:"fileName"`
	FilePath    string    `json:"filePath"`
	IsClosed    bool      `json:"isClosed"`
	SubmittedBy string    `json:"submittedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Tag       string    `json:"tag,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Archive struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) (*Archive, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{baseDir: baseDir, locks: make(map[string]*sync.Mutex)}, nil
}

// RecordSubmission appends version to the draft's manifest, closes the
// entries before it, commits, and tags the commit v<number>.
func (a *Archive) RecordSubmission(ctx context.Context, draft store.Draft, version store.Version, actorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := a.draftLock(draft.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := a.openOrInit(draft.ID)
	if err != nil {
		return err
	}
	manifest, err := headManifest(repo)
	if err != nil && !errors.Is(err, ErrNoHistory) {
		return err
	}
	manifest.DraftID = draft.ID
	manifest.ConversationID = draft.ConversationID
	manifest.Title = draft.Title
	for _, entry := range manifest.Versions {
		if entry.VersionID == version.ID {
			return nil
		}
	}
	for i := range manifest.Versions {
		manifest.Versions[i].IsClosed = true
	}
	number := len(manifest.Versions) + 1
	manifest.Versions = append(manifest.Versions, ManifestEntry{
		VersionID:   version.ID,
		Number:      number,
		FileName:    version.FileName,
		FilePath:    version.FileURL,
		IsClosed:    version.IsClosed,
		SubmittedBy: actorID,
		CreatedAt:   version.CreatedAt,
	})

	hash, err := commitManifest(repo, manifest, actorID, fmt.Sprintf("Version %d: %s", number, version.FileName))
	if err != nil {
		return err
	}
	tag := fmt.Sprintf("v%d", number)
	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger:  signature(actorID),
		Message: tag,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

// History lists the draft's commits, newest first.
func (a *Archive) History(ctx context.Context, draftID string, limit int) ([]Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := a.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := a.open(draftID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	tags, err := tagsByCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, Commit{
			Hash:      c.Hash.String()[:7],
			Message:   c.Message,
			Author:    c.Author.Name,
			Tag:       tags[c.Hash],
			CreatedAt: c.Author.When,
		})
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

// ManifestAt returns the manifest as of a commit hash, short hash or tag.
func (a *Archive) ManifestAt(ctx context.Context, draftID, revision string) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}
	lock := a.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := a.open(draftID)
	if err != nil {
		return Manifest{}, err
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return Manifest{}, fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	c, err := repo.CommitObject(*hash)
	if err != nil {
		return Manifest{}, fmt.Errorf("read commit %s: %w", revision, err)
	}
	return readManifest(c)
}

func (a *Archive) repoPath(draftID string) string {
	return filepath.Join(a.baseDir, filepath.Base(draftID))
}

func (a *Archive) open(draftID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(a.repoPath(draftID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (a *Archive) openOrInit(draftID string) (*git.Repository, error) {
	repo, err := a.open(draftID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, err
	}
	path := a.repoPath(draftID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return repo, nil
}

func (a *Archive) draftLock(draftID string) *sync.Mutex {
	a.lockMu.Lock()
	defer a.lockMu.Unlock()
	lock, ok := a.locks[draftID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[draftID] = lock
	}
	return lock
}

func headManifest(repo *git.Repository) (Manifest, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Manifest{}, ErrNoHistory
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	c, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Manifest{}, fmt.Errorf("load head commit: %w", err)
	}
	return readManifest(c)
}

func commitManifest(repo *git.Repository, manifest Manifest, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal manifest: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, manifestFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", manifestFile, err)
	}
	if _, err := worktree.Add(manifestFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add manifest: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: signature(author)})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit manifest: %w", err)
	}
	return hash, nil
}

func readManifest(c *object.Commit) (Manifest, error) {
	file, err := c.File(manifestFile)
	if err != nil {
		return Manifest{}, fmt.Errorf("load %s from commit: %w", manifestFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Manifest{}, fmt.Errorf("open manifest reader: %w", err)
	}
	defer reader.Close()

	var manifest Manifest
	if err := json.NewDecoder(reader).Decode(&manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return manifest, nil
}

func tagsByCommit(repo *git.Repository) (map[plumbing.Hash]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer iter.Close()
	out := make(map[plumbing.Hash]string)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if tag, err := repo.TagObject(target); err == nil {
			target = tag.Target
		}
		out[target] = ref.Name().Short()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

func signature(userID string) *object.Signature {
	name := userID
	if name == "" {
		name = "thesisflow"
	}
	return &object.Signature{
		Name:  name,
		Email: "archive@thesisflow.local",
		When:  time.Now(),
	}
}
