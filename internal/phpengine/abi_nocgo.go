//go:build !php_embed

package phpengine

// newEngineABI reports that libphp is not linked into this build.
// Rebuild with `-tags php_embed` and libphp on the linker path.
func newEngineABI() (engineABI, error) {
	return nil, ErrEngineUnavailable
}
