// Package prompt is the only boundary the resolver blocks on human input
// through.
package prompt

import "context"

// Choice is the answer to a download-consent question.
type Choice int

const (
	No Choice = iota
	Yes
	Always
)

func (c Choice) String() string {
	switch c {
	case Yes:
		return "yes"
	case Always:
		return "always"
	default:
		return "no"
	}
}

// FileRequest describes the file the user is asked to locate.
type FileRequest struct {
	ArtifactURI string
	// Ext restricts the picker to files carrying the artifact's extension;
	// empty means no restriction.
	Ext string
}

// Prompter asks the user for decisions the resolver cannot make alone.
type Prompter interface {
	// ChooseFile returns the picked local path or URI; empty means the
	// user cancelled.
	ChooseFile(ctx context.Context, req FileRequest) (string, error)
	// ConfirmDownload asks whether to fetch from host. Always means the
	// consent also covers future sessions.
	ConfirmDownload(ctx context.Context, host, rawURL string) (Choice, error)
	// ShowError surfaces a non-fatal resolution problem.
	ShowError(msg string)
}
