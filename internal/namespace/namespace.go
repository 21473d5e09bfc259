// Package namespace implements hierarchical backup namespaces.
//
// A namespace partitions a datastore into a tree of logical domains that
// share one deduplication (chunk) domain. Namespaces are a logical boundary
// only: they avoid backup-id clashes between sites, they do not isolate the
// shared chunk store.
//
// Two serializations exist. The name form joins components with "/" and is
// used in API identifiers ("a/b/c"). The path form interleaves an "ns"
// directory before every component ("ns/a/ns/b/ns/c") so that namespace
// directories on disk can never collide with backup type directories.
package namespace

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxDepth is the maximal, inclusive depth below the root namespace.
	// The datastore root is at depth zero, so there are eight levels total.
	MaxDepth = 7

	// MaxNameLength is the maximal length of the serialized name form,
	// separating slashes included, "ns/" directories excluded.
	MaxNameLength = 256
)

// safeID is the grammar for a single namespace component.
var safeID = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

// Validation errors returned by Parse, ParsePath and Push. Callers can match
// them with errors.Is to find out which constraint failed.
var (
	ErrTooDeep          = errors.New("namespace too deep")
	ErrNameTooLong      = errors.New("namespace name length exceeded")
	ErrInvalidComponent = errors.New("invalid namespace component")
	ErrNotPrefix        = errors.New("not a namespace prefix")
)

// Namespace is a position in the namespace tree. The zero value is the root.
//
// Namespace is a value type: copies never share mutable state, Push returns
// the grown namespace instead of aliasing the receiver's backing array.
type Namespace struct {
	parts []string
	// nameLen caches len(String()) so limits can be checked incrementally.
	nameLen int
}

// Root returns the root namespace.
func Root() Namespace {
	return Namespace{}
}

// Parse parses the name form ("a/b/c"). The empty string is the root.
//
// Validation happens per component so a too-deep or too-long input is
// rejected at the first offending component.
func Parse(name string) (Namespace, error) {
	ns := Root()
	if name == "" {
		return ns, nil
	}
	for _, part := range strings.Split(name, "/") {
		var err error
		if ns, err = ns.Push(part); err != nil {
			return Namespace{}, err
		}
	}
	return ns, nil
}

// ParsePath parses the on-disk path form ("ns/a/ns/b"). The empty string is
// the root. Any structure other than an "ns" directory before each component
// is an error.
func ParsePath(path string) (Namespace, error) {
	ns := Root()
	for path != "" {
		rest, ok := strings.CutPrefix(path, "ns/")
		if !ok {
			return Namespace{}, fmt.Errorf("%w: unexpected path element at %q", ErrInvalidComponent, path)
		}
		var part string
		if pos := strings.IndexByte(rest, '/'); pos >= 0 {
			part, path = rest[:pos], rest[pos+1:]
		} else {
			part, path = rest, ""
		}
		var err error
		if ns, err = ns.Push(part); err != nil {
			return Namespace{}, err
		}
	}
	return ns, nil
}

// MustParse is Parse for static strings, panicking on invalid input.
func MustParse(name string) Namespace {
	ns, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return ns
}

// IsRoot reports whether this is the root namespace.
func (ns Namespace) IsRoot() bool {
	return len(ns.parts) == 0
}

// Depth returns the hierarchical depth; the root is at depth zero.
func (ns Namespace) Depth() int {
	return len(ns.parts)
}

// Components returns the path components, shallow-copied so the caller
// cannot corrupt the namespace.
func (ns Namespace) Components() []string {
	if len(ns.parts) == 0 {
		return nil
	}
	out := make([]string, len(ns.parts))
	copy(out, ns.parts)
	return out
}

// NameLen returns the length of the serialized name form, including
// separating slashes but not the "ns/" path directories.
func (ns Namespace) NameLen() int {
	return ns.nameLen
}

// String returns the name form ("a/b/c", "" for the root).
func (ns Namespace) String() string {
	return strings.Join(ns.parts, "/")
}

// Path returns the relative on-disk path form ("ns/a/ns/b", "" for the root).
func (ns Namespace) Path() string {
	if len(ns.parts) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(ns.nameLen + 3*len(ns.parts))
	for i, part := range ns.parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString("ns/")
		b.WriteString(part)
	}
	return b.String()
}

// Push returns the namespace extended by one child component, validating
// depth, total name length and the component grammar.
func (ns Namespace) Push(component string) (Namespace, error) {
	if strings.ContainsRune(component, '/') {
		return Namespace{}, fmt.Errorf("%w: %q contains a slash", ErrInvalidComponent, component)
	}
	if len(ns.parts) >= MaxDepth {
		return Namespace{}, fmt.Errorf("%w: depth %d exceeds max %d", ErrTooDeep, len(ns.parts)+1, MaxDepth)
	}
	if component == "" || !safeID.MatchString(component) {
		return Namespace{}, fmt.Errorf("%w: %q", ErrInvalidComponent, component)
	}
	newLen := ns.nameLen + len(component)
	if len(ns.parts) > 0 {
		newLen++ // separating slash
	}
	if newLen > MaxNameLength {
		return Namespace{}, fmt.Errorf("%w: %d > max %d", ErrNameTooLong, newLen, MaxNameLength)
	}

	parts := make([]string, 0, len(ns.parts)+1)
	parts = append(parts, ns.parts...)
	parts = append(parts, component)
	return Namespace{parts: parts, nameLen: newLen}, nil
}

// Pop returns the namespace with its last component removed, the removed
// component, and whether anything was removed. Popping the root is a no-op.
func (ns Namespace) Pop() (Namespace, string, bool) {
	if len(ns.parts) == 0 {
		return ns, "", false
	}
	last := ns.parts[len(ns.parts)-1]
	newLen := ns.nameLen - len(last)
	if len(ns.parts) > 1 {
		newLen--
	}
	parts := make([]string, len(ns.parts)-1)
	copy(parts, ns.parts[:len(ns.parts)-1])
	return Namespace{parts: parts, nameLen: newLen}, last, true
}

// Parent returns the enclosing namespace. The root's parent is the root.
func (ns Namespace) Parent() Namespace {
	parent, _, _ := ns.Pop()
	return parent
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) ns.
func (ns Namespace) HasPrefix(prefix Namespace) bool {
	if len(prefix.parts) > len(ns.parts) {
		return false
	}
	for i, part := range prefix.parts {
		if ns.parts[i] != part {
			return false
		}
	}
	return true
}

// MapPrefix returns ns with the source prefix replaced by target. Used when
// copying or syncing between datastores to re-root a namespace subtree.
// Fails with ErrNotPrefix if ns is not rooted under source, and revalidates
// depth and length limits for the remapped result.
func (ns Namespace) MapPrefix(source, target Namespace) (Namespace, error) {
	if !ns.HasPrefix(source) {
		return Namespace{}, fmt.Errorf("%w: %q is not a prefix of %q", ErrNotPrefix, source.String(), ns.String())
	}
	mapped := target
	for _, part := range ns.parts[len(source.parts):] {
		var err error
		if mapped, err = mapped.Push(part); err != nil {
			return Namespace{}, err
		}
	}
	return mapped, nil
}

// MarshalText implements encoding.TextMarshaler using the name form.
func (ns Namespace) MarshalText() ([]byte, error) {
	return []byte(ns.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler from the name form.
func (ns *Namespace) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*ns = parsed
	return nil
}
