package hashtable

import "github.com/pkg/errors"

var ErrInvalidKey = errors.New("hash table keys must be nonzero")
var ErrTableFull = errors.New("hash table probe wrapped without finding a slot")
