// Package propagate copies files changed in one project's export tree into
// the dependency stores of every project that declares it as a dependency.
//
// Events are handled one at a time by an Engine. Each accepted event is
// mapped to one destination per direct dependent:
//
//	<dependencyStoreRoot>/<originProject>/<path relative to export root>
//
// Every destination written is remembered in a Guard so that a copy which
// lands inside a watched tree never triggers another round of propagation.
package propagate

// Kind classifies a filesystem change.
type Kind int

// Change kinds. KindOther covers everything the engine ignores.
const (
	KindOther Kind = iota
	KindCreate
	KindModify
	KindRemove
	KindAccess
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindModify:
		return "modify"
	case KindRemove:
		return "remove"
	case KindAccess:
		return "access"
	default:
		return "other"
	}
}

// Propagates reports whether events of this kind trigger propagation.
// Remove is accepted like any other change; the subsequent copy of the
// missing source fails and is reported.
func (k Kind) Propagates() bool {
	switch k {
	case KindCreate, KindModify, KindRemove, KindAccess:
		return true
	default:
		return false
	}
}

// Event is a change notification tagged with the project whose export tree
// it was observed in.
type Event struct {
	// Path is the absolute path of the changed file.
	Path string

	// Project is the name of the originating project.
	Project string

	Kind Kind
}
