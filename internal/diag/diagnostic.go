package diag

type Note struct {
	Site Site
	Msg  string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Primary  Site
	Notes    []Note
}

// WithNote returns a copy of the diagnostic with an extra note attached.
func (d Diagnostic) WithNote(site Site, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Site: site, Msg: msg})
	return d
}
