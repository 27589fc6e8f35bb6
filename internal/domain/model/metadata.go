package model

// ObjectType tags a metadata object by the role it plays in a job's result set.
type ObjectType string

const (
	ObjectTypeModel ObjectType = "MODEL"
	ObjectTypeData  ObjectType = "DATA"
	// ObjectTypeJob tags the tenant-supplied job definition object itself, preallocated and
	// saved by saveInitialMetadata before the job ever reaches the cache (spec.md §4.3/§4.5).
	ObjectTypeJob ObjectType = "JOB"
)

// Selector identifies a dependency to load from the metadata store (C3.loadObjects).
type Selector struct {
	Tenant     string
	ObjectType ObjectType
	ObjectID   string
	Version    string
}

// Object is a loaded metadata dependency, keyed into JobState.Resources by the selector that
// produced it.
type Object struct {
	Selector Selector
	Header   ObjectHeader
	Payload  []byte
}

// ObjectHeader is what the metadata store returns for a saved or preallocated object: identity
// and version, nothing the core needs to interpret further.
type ObjectHeader struct {
	ObjectID   string
	ObjectType ObjectType
	Version    string
}

// ResultOutput names one logical output a job-type variant expects to produce, paired with the
// object type the metadata store should preallocate an id for. ExpectedOutputs collapses this
// down to per-type counts for preallocation sizing; DeclaredOutputs keeps the names so a caller
// can zip preallocated ids back to the keys ProcessResult expects.
type ResultOutput struct {
	Key        string
	ObjectType ObjectType
}

// PreallocateRequest asks the metadata store to reserve count ids of a given type.
type PreallocateRequest struct {
	ObjectType ObjectType
	Count      int
}

// WriteRequest is one metadata write processResult emits; saveResultMetadata applies a batch of
// these transactionally (spec.md §4.3).
type WriteRequest struct {
	ObjectID      string
	ObjectType    ObjectType
	Payload       []byte
	Attributes    map[string]string
	PreallocateID string
}
