// Package bundle holds the native shared libraries compiled into the
// binary. Libraries live under lib/<os>/<arch>/<filename>. They are
// only embedded when building with the bundle_native tag; the default
// build carries an empty bundle, and loading reports the missing
// resource instead.
package bundle

import (
	"embed"
	"io/fs"
)

var tree fs.FS = embed.FS{}

// FS returns the bundled native library tree.
func FS() fs.FS {
	return tree
}
