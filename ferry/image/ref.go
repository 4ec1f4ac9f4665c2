// Package image parses container image references and enforces the tag
// policy used by builds and deployments.
package image

import (
	"errors"
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"github.com/hashicorp/go-version"
)

// ErrMutableTag is returned for references whose content can change
// under the same name.
var ErrMutableTag = errors.New("mutable image tag")

// mutableTags are tags registries conventionally move.
var mutableTags = map[string]bool{
	"latest": true,
	"stable": true,
	"edge":   true,
	"main":   true,
	"master": true,
}

type Ref struct {
	// Name is the repository as written by the user, e.g. user/hello.
	Name   string
	Tag    string
	Digest string
}

// Parse splits "name[:tag][@digest]". When tag is non-empty it replaces
// any tag present in name.
func Parse(name, tag string) (Ref, error) {
	raw := name
	if tag != "" {
		raw = stripTag(name) + ":" + tag
	}

	named, err := reference.ParseNormalizedNamed(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid image reference %q: %w", raw, err)
	}

	ref := Ref{Name: reference.FamiliarName(named)}
	if tagged, ok := named.(reference.Tagged); ok {
		ref.Tag = tagged.Tag()
	}
	if digested, ok := named.(reference.Digested); ok {
		ref.Digest = digested.Digest().String()
	}
	return ref, nil
}

// stripTag drops a trailing :tag without touching a registry port.
func stripTag(name string) string {
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	slash := strings.LastIndex(name, "/")
	if colon := strings.LastIndex(name, ":"); colon > slash {
		return name[:colon]
	}
	return name
}

func (r Ref) String() string {
	s := r.Name
	if r.Tag != "" {
		s += ":" + r.Tag
	}
	if r.Digest != "" {
		s += "@" + r.Digest
	}
	return s
}

// Pinned reports whether the reference names fixed content: a digest, or a
// release version tag.
func (r Ref) Pinned() bool {
	return r.Digest != "" || r.IsVersionTag()
}

// IsVersionTag reports whether the tag is a release version
// (v2, 1.4.0, v1.2.3-rc1).
func (r Ref) IsVersionTag() bool {
	if r.Tag == "" || mutableTags[strings.ToLower(r.Tag)] {
		return false
	}
	_, err := version.NewVersion(r.Tag)
	return err == nil
}

// CheckTag enforces immutable version tags unless allowMutable is set.
func CheckTag(r Ref, allowMutable bool) error {
	if allowMutable || r.Pinned() {
		return nil
	}
	switch {
	case r.Tag == "":
		return fmt.Errorf("%w: %s has no tag, use a version tag such as v1", ErrMutableTag, r.Name)
	case mutableTags[strings.ToLower(r.Tag)]:
		return fmt.Errorf("%w: %s, use a version tag such as v1 or set allow_mutable_tag", ErrMutableTag, r)
	default:
		return fmt.Errorf("%w: %s is not a version tag, use one such as v1 or set allow_mutable_tag", ErrMutableTag, r)
	}
}
