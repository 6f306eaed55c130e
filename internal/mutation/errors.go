package mutation

import (
	"fmt"
	"strings"

	"github.com/starford/convsync/internal/apperr"
)

// maxTrackedHint bounds how many tracked paths a NotTrackedError lists.
const maxTrackedHint = 30

// NotTrackedError is returned when update or delete targets a file the
// manifest does not know. It lists a sample of the tracked paths.
type NotTrackedError struct {
	Path    string
	Tracked []string
	Total   int
}

func (e *NotTrackedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is not tracked in the manifest", e.Path)
	if len(e.Tracked) == 0 {
		b.WriteString(" (no tracked files; run `convsync download` or `convsync create` first)")
		return b.String()
	}
	b.WriteString("; tracked files:")
	for _, p := range e.Tracked {
		b.WriteString("\n  ")
		b.WriteString(p)
	}
	if more := e.Total - len(e.Tracked); more > 0 {
		fmt.Fprintf(&b, "\n  ... and %d more", more)
	}
	return b.String()
}

func (e *NotTrackedError) Unwrap() error {
	return apperr.ErrNotTracked
}
