// Package backup defines the identity model for backup data: the backup
// type, the backup group (type + id) and the backup snapshot (group + time).
//
// Groups and snapshots have stable string forms used in API identifiers and
// as on-disk directory names:
//
//	vm/100
//	host/elsa/2020-06-15T05:18:33Z
//
// Ordering of types and groups follows a historical contract, see the rank
// table below and Group.Compare.
package backup

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Type is the kind of backup a group holds.
type Type uint8

const (
	// TypeVM is a virtual machine backup.
	TypeVM Type = iota
	// TypeCT is a container backup.
	TypeCT
	// TypeHost is a host ("bare metal") backup.
	TypeHost
)

// typeRank fixes the display/grouping order of backup types. The order dates
// back to when the type was a plain string and sorted alphabetically; it is
// kept as an explicit table so it stays independent of how the constants are
// declared.
var typeRank = map[Type]int{
	TypeCT:   0,
	TypeHost: 1,
	TypeVM:   2,
}

// Types lists all backup types in rank order.
func Types() []Type {
	return []Type{TypeCT, TypeHost, TypeVM}
}

// String returns the wire form of the type ("vm", "ct", "host").
func (t Type) String() string {
	switch t {
	case TypeVM:
		return "vm"
	case TypeCT:
		return "ct"
	case TypeHost:
		return "host"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(t))
	}
}

// Rank returns the type's position in the historical sort order.
func (t Type) Rank() int {
	return typeRank[t]
}

// Compare orders types by rank: ct < host < vm.
func (t Type) Compare(other Type) int {
	return typeRank[t] - typeRank[other]
}

// ParseType parses the wire form of a backup type.
func ParseType(s string) (Type, error) {
	switch s {
	case "vm":
		return TypeVM, nil
	case "ct":
		return TypeCT, nil
	case "host":
		return TypeHost, nil
	default:
		return 0, fmt.Errorf("invalid backup type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// idRE is the grammar for a backup id: VM/CT ids are numeric, host ids are
// hostnames, both fit the safe-id charset.
var idRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

// ErrMalformed is wrapped by all identity parse errors.
var ErrMalformed = errors.New("malformed backup identifier")

// Group identifies a logical backup target: one type plus one id. A group
// contains an ordered series of snapshots.
type Group struct {
	Type Type
	ID   string
}

// NewGroup builds a group without validating the id; use ParseGroup for
// untrusted input.
func NewGroup(ty Type, id string) Group {
	return Group{Type: ty, ID: id}
}

// ParseGroup parses the "type/id" form, e.g. "vm/100".
func ParseGroup(s string) (Group, error) {
	ty, id, ok := strings.Cut(s, "/")
	if !ok {
		return Group{}, fmt.Errorf("%w: backup group %q", ErrMalformed, s)
	}
	parsedType, err := ParseType(ty)
	if err != nil {
		return Group{}, fmt.Errorf("%w: backup group %q: %s", ErrMalformed, s, err)
	}
	if !idRE.MatchString(id) {
		return Group{}, fmt.Errorf("%w: backup group %q: invalid id", ErrMalformed, s)
	}
	return Group{Type: parsedType, ID: id}, nil
}

// String returns the "type/id" form.
func (g Group) String() string {
	return g.Type.String() + "/" + g.ID
}

// Compare defines the strict total order over groups: first by type rank,
// then by id. Ids that both parse as unsigned integers compare numerically;
// a numeric id sorts before a non-numeric one; otherwise ids compare
// lexicographically. Historical ids were purely numeric (VM/CT ids) while
// host ids are hostnames, hence the asymmetry.
func (g Group) Compare(other Group) int {
	if c := g.Type.Compare(other.Type); c != 0 {
		return c
	}
	a, errA := strconv.ParseUint(g.ID, 10, 64)
	b, errB := strconv.ParseUint(other.ID, 10, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(g.ID, other.ID)
	}
}

// Less is a convenience for sort callbacks.
func (g Group) Less(other Group) bool {
	return g.Compare(other) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (g Group) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Group) UnmarshalText(text []byte) error {
	parsed, err := ParseGroup(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// timeLayout is the snapshot timestamp form: RFC3339 at second precision,
// UTC with a literal Z suffix. Offsets and sub-second digits are rejected so
// the string form round-trips exactly.
const timeLayout = "2006-01-02T15:04:05Z"

// FormatTime renders a snapshot epoch as its canonical timestamp string.
func FormatTime(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(timeLayout)
}

// ParseTime parses a canonical snapshot timestamp string into an epoch.
func ParseTime(s string) (int64, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: backup time %q: %s", ErrMalformed, s, err)
	}
	return t.Unix(), nil
}

// Dir uniquely identifies one backup snapshot within a datastore namespace.
type Dir struct {
	Group Group
	// Time is the backup timestamp as signed Unix epoch seconds. It is the
	// disambiguator between snapshots of one group and must be preserved
	// exactly.
	Time int64
}

// NewDir builds a snapshot identity from its parts.
func NewDir(ty Type, id string, epoch int64) Dir {
	return Dir{Group: NewGroup(ty, id), Time: epoch}
}

// ParseDir parses the "type/id/timestamp" form, e.g.
// "host/elsa/2020-06-15T05:18:33Z".
func ParseDir(s string) (Dir, error) {
	idx := strings.LastIndexByte(s, '/')
	if idx < 0 {
		return Dir{}, fmt.Errorf("%w: backup snapshot %q", ErrMalformed, s)
	}
	group, err := ParseGroup(s[:idx])
	if err != nil {
		return Dir{}, fmt.Errorf("%w: backup snapshot %q", ErrMalformed, s)
	}
	epoch, err := ParseTime(s[idx+1:])
	if err != nil {
		return Dir{}, err
	}
	return Dir{Group: group, Time: epoch}, nil
}

// String returns the "type/id/timestamp" form.
func (d Dir) String() string {
	return d.Group.String() + "/" + d.TimeString()
}

// TimeString returns the snapshot's canonical timestamp string, which is
// also its on-disk directory name.
func (d Dir) TimeString() string {
	return FormatTime(d.Time)
}

// Compare orders snapshots by group, then by time ascending.
func (d Dir) Compare(other Dir) int {
	if c := d.Group.Compare(other.Group); c != 0 {
		return c
	}
	switch {
	case d.Time < other.Time:
		return -1
	case d.Time > other.Time:
		return 1
	default:
		return 0
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Dir) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Dir) UnmarshalText(text []byte) error {
	parsed, err := ParseDir(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
