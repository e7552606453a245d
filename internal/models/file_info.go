package models

// UploadedFileInfo represents one file entered into the guided flow.
// Name is the unique key of the file within a flow.
type UploadedFileInfo struct {
	Name        string `json:"name" msgpack:"name"`
	Path        string `json:"path" msgpack:"path"` // backend object reference, rewritten on relocation
	Size        int64  `json:"size" msgpack:"size"`
	TotalSheets *int   `json:"totalSheets,omitempty" msgpack:"totalSheets,omitempty"`
}

// FetchKey is the composite key that stage data fetches are tracked by.
type FetchKey struct {
	FileName string
	FilePath string
}

// Key returns the fetch key of the file.
func (f UploadedFileInfo) Key() FetchKey {
	return FetchKey{FileName: f.Name, FilePath: f.Path}
}

// IsZero reports whether k identifies no file.
func (k FetchKey) IsZero() bool {
	return k.FileName == "" && k.FilePath == ""
}
