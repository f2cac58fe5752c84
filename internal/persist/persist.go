// Package persist implements the document snapshot store the engine reads at
// startup and rewrites after each mutation. Each logical collection is one
// whole document; there is no incremental append.
package persist

// Collection names. Each maps to exactly one stored document.
const (
	CollectionTemplates   = "templates"
	CollectionRequests    = "requests"
	CollectionElevated    = "elevated_access"
	CollectionEmergency   = "emergency_access"
	CollectionRules       = "validation_rules"
	CollectionInheritance = "inheritance_rules"
)

// Collections lists every collection the engine persists.
var Collections = []string{
	CollectionTemplates,
	CollectionRequests,
	CollectionElevated,
	CollectionEmergency,
	CollectionRules,
	CollectionInheritance,
}

// Adapter is the engine's only external shared resource. Save must never
// leave a partially written document visible: a crash mid-write must not
// corrupt the previous snapshot.
type Adapter interface {
	// Load reads a collection document into the given value. A collection
	// that has never been saved is not an error; into is left untouched.
	Load(collection string, into any) error

	// Save replaces the collection document with the serialized value.
	Save(collection string, doc any) error

	// Ping reports whether the store is reachable.
	Ping() error

	// Close releases any underlying resources.
	Close() error
}
