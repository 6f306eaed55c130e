package index

// ConventionIndex defines the interface for convention indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type.
type ConventionIndex interface {
	Upsert(r Row, body string) error
	Delete(path string) error
	GetChecksum(path string) (string, error)
	Get(path string) (*Row, error)
	List(category string) ([]Row, error)
	Search(query string, limit int) ([]SearchResult, error)
	AllPaths() (map[string]struct{}, error)
	AllStamps() (map[string]Stamp, error)
	Close() error
}

var _ ConventionIndex = (*DB)(nil)
