package models

// AssetStatus represents the fetch status of an asset URL in the state store
type AssetStatus string

const (
	AssetStatusUnset    AssetStatus = ""          // Zero value = unset/unknown
	AssetStatusSuccess  AssetStatus = "success"   // Asset stored on disk
	AssetStatusFailure  AssetStatus = "failure"   // Fetch or write failed
	AssetStatusSkipped  AssetStatus = "skipped"   // Skipped by policy (robots, pattern)
	AssetStatusNotFound AssetStatus = "not_found" // URL not in store
	AssetStatusDBError  AssetStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s AssetStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a value that can be persisted
func (s AssetStatus) IsValid() bool {
	switch s {
	case AssetStatusSuccess, AssetStatusFailure, AssetStatusSkipped:
		return true
	}
	return false
}
