package defs

// Common labels for logging
const (
	LabelComponent = "component"
	LabelPart      = "part"
	LabelTag       = "tag"
)

// Storage modes for BufferPool, mirrored in metrics as the "mode" label
const (
	StorageModeHeap   = "heap"
	StorageModeDirect = "direct"
)
