package model

// BuildArtifact is the verified output directory of a build. It is handed to
// the publisher and discarded afterwards.
type BuildArtifact struct {
	RootPath  string
	FileCount int
}

// LocalObject is a file of the artifact tree addressed by its bucket key.
type LocalObject struct {
	Key  string // prefix + "/" + slash-separated relative path.
	Path string // Absolute path on disk.
	Hash string // Hex MD5 of the contents.
	Size int64
}

// RemoteObject is an object already present in the bucket.
type RemoteObject struct {
	Key  string
	Hash string // Hex MD5, or an opaque ETag for multipart objects.
}

// SyncPlan is the diff between the artifact tree and the bucket prefix.
type SyncPlan struct {
	Upload    []LocalObject
	Delete    []string
	Unchanged []string
}

// PublishResult summarises an applied SyncPlan.
type PublishResult struct {
	Uploaded  int
	Deleted   int
	Unchanged int

	UploadedKeys  []string
	DeletedKeys   []string
	UnchangedKeys []string
}

// InvalidationResult describes the primary CDN invalidation.
type InvalidationResult struct {
	DistributionID string
	InvalidationID string
	Skipped        bool // No distribution is bound to the bucket.
}
