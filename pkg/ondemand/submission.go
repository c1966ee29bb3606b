package ondemand

// Submission identifies one accepted job submission. It is handed to
// submission recorders once the service has accepted the upload.
type Submission struct {
	ProductID   string
	Fingerprint string // hex SHA-256 of the uploaded file
	FileName    string
	JobID       string
	Mode        string // "direct" or "polling"
}
