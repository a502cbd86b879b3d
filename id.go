package governor

import "github.com/xraph/governor/id"

// ID is the primary identifier type for all Governor entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
