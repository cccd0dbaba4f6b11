// Package revision identifies the source revision a build was made from.
package revision

import (
	"errors"
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ShortLen is the number of hex digits kept from the commit hash.
const ShortLen = 8

// Head returns the abbreviated commit hash of HEAD for the repository that
// contains dir, searching parent directories for .git. It returns "" and no
// error when dir is not inside a repository or the repository has no
// commits yet.
func Head(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", fmt.Errorf("opening repository at %s: %w", dir, err)
	}
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	hash := ref.Hash().String()
	if len(hash) > ShortLen {
		hash = hash[:ShortLen]
	}
	return hash, nil
}
