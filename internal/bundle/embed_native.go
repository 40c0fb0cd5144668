//go:build bundle_native

package bundle

import "embed"

// The lib directory is populated by the release packaging before
// building with -tags bundle_native.
//
//go:embed lib
var nativeTree embed.FS

func init() {
	tree = nativeTree
}
