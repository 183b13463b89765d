//go:build !unix

package session

import "context"

// lockFile is a no-op where flock is unavailable; only writers inside one
// process are serialized there.
func lockFile(context.Context, string) (func(), error) {
	return func() {}, nil
}
