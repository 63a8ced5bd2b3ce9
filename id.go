package lro

import "github.com/xraph/lro/id"

// ID is the primary identifier type for all LRO entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
