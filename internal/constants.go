package internal

const (
	ReceiptFileName = "azrelay-receipt.yaml"
	ReceiptVersion  = 1

	LockFileName = ".azrelay.lock"
)

// Intermediate files inside the working directory of a single run.
const (
	DownloadedArchiveName = "art.zip"
	ChecksumArchiveName   = "checksum.zip"
	CacheFileName         = "cache.zip"
	ChecksumFileName      = "checksum.txt"
)

const (
	// PairAlgorithm is the digest used to compare the extracted bundle with its sidecar.
	PairAlgorithm = "sha256"

	ZipContentType  = "application/zip"
	TextContentType = "text/plain"

	ArchiveSuffix  = ".zip"
	ChecksumSuffix = ".txt"
)

const UserAgent = "azrelay"
