// Package metrics provides constants used across metric definitions.
package metrics

// Operation label values.
const (
	// OpFetchPage is one page of a paginated source read.
	OpFetchPage = "fetch_page"
	// OpFetchOne is a single-resource source read.
	OpFetchOne = "fetch_one"
	// OpDownload is an asset download from the source.
	OpDownload = "download"
	// OpUpload is an asset upload to the target.
	OpUpload = "upload"
	// OpMetadata is the file entity lookup preceding a download.
	OpMetadata = "metadata"
	// OpLookup is the existence check of an upsert.
	OpLookup = "lookup"
	// OpCreate is the create call of an upsert.
	OpCreate = "create"
	// OpStage is one pipeline stage.
	OpStage = "stage"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket configuration constants.
const (
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart100ms is the starting bucket for 100ms histograms (100ms to ~100s range).
	BucketStart100ms = 0.1
	// BucketStart1s is the starting bucket for 1s histograms (1s to ~9 hours range).
	BucketStart1s = 1.0
	// BucketStart1KB is the starting bucket for 1KB histograms (1KB to ~1GB range).
	BucketStart1KB = 1024.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketFactor4 covers wide size ranges.
	BucketFactor4 = 4

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)
