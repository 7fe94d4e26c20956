package resolver

// VersionControlProvenance identifies the repository and revision an
// analysis run was produced from.
type VersionControlProvenance struct {
	RepositoryURI string
	RevisionID    string
}

// Location carries one artifact reference from a loaded report plus the
// optional hints the report supplies for it.
type Location struct {
	ArtifactURI string
	// URIBase is the base URI the report itself declares for this
	// artifact, if any.
	URIBase string
	// Provenance lists version-control origins to fetch from when no
	// local copy is found, in preference order.
	Provenance []VersionControlProvenance
}
