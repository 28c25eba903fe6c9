package schema

import _ "embed"

// The catalog metadata shipped with the bridge: the interface table built
// from the published interface catalog, and the list of interfaces having
// known subtypes.
//
//go:embed catalog.yaml
var catalogYAML []byte

//go:embed subclassed.txt
var subclassedList []byte
