package quota

import "github.com/newleaf-app/quota/id"

// ID is the primary identifier type for all quota entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
