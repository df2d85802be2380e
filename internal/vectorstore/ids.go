package vectorstore

import (
	"strconv"

	"github.com/google/uuid"
)

// recordNamespace scopes record ids generated by this module.
var recordNamespace = uuid.MustParse("6f1c3a52-8d0e-4c57-9a47-2b1d5e0c9f13")

// RecordID returns the deterministic id of a chunk in a collection.
// Writing the same (source, chunk_index) twice targets the same row, so a
// concurrent second writer overwrites identical content instead of adding a
// duplicate.
func RecordID(collection, source string, chunkIndex int) uuid.UUID {
	return uuid.NewSHA1(recordNamespace, []byte(collection+"\x00"+source+"\x00"+strconv.Itoa(chunkIndex)))
}
