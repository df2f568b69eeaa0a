package propagate

// ChangedFile is an event that passed classification.
type ChangedFile struct {
	Path    string
	Project string
	Kind    Kind
}

// Classify filters ev. It rejects kinds that do not propagate and paths the
// engine itself wrote earlier. It has no side effects.
func Classify(ev Event, guard *Guard) (ChangedFile, bool) {
	if !ev.Kind.Propagates() {
		return ChangedFile{}, false
	}

	if guard != nil && guard.Contains(ev.Path) {
		return ChangedFile{}, false
	}

	return ChangedFile{Path: ev.Path, Project: ev.Project, Kind: ev.Kind}, true
}
