package catalog

// FileRecord is one file of a remote. (Remote, Path) is unique.
type FileRecord struct {
	ID       int64  `json:"id,omitempty"`
	Remote   string `json:"remote"`
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// Match is a search hit.
type Match struct {
	Remote   string `json:"remote"`
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// IndexState describes how far the search index has caught up with files.
type IndexState struct {
	LastIndexedID int64 `json:"last_indexed_id"`
	MaxFileID     int64 `json:"max_file_id"`
	Pending       int64 `json:"pending"`
}
