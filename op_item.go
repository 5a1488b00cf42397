package tasksched

import (
	"time"
)

// ItemKind is the logical kind of an OperationQueue item. It is a hint
// for consumers; the queue itself stays strictly FIFO.
type ItemKind uint8

const (
	KindStandard ItemKind = iota
	KindHighPriority
	KindReadMostly
	KindBatchFriendly
	KindCacheSensitive
	KindLongRunning
)

func (k ItemKind) String() string {
	switch k {
	case KindStandard:
		return "Standard"
	case KindHighPriority:
		return "HighPriority"
	case KindReadMostly:
		return "ReadMostly"
	case KindBatchFriendly:
		return "BatchFriendly"
	case KindCacheSensitive:
		return "CacheSensitive"
	case KindLongRunning:
		return "LongRunning"
	default:
		return "Unknown"
	}
}

// ItemMeta describes an OperationQueue item.
type ItemMeta struct {
	Kind ItemKind

	// SizeHint is the approximate payload size in bytes.
	SizeHint uint32

	// BatchCompatible marks items that may be processed together with
	// other batch-compatible items in one grouped pass.
	BatchCompatible bool

	// Locality groups related items for cache-friendly processing.
	// Zero means no hint.
	Locality uint32
}

// Item is a payload with its metadata as stored by an OperationQueue.
type Item[T any] struct {
	Value      T
	Meta       ItemMeta
	EnqueuedAt time.Time
}
