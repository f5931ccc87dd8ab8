//go:build test

package accountant

// recountOnEveryOperation enables full recount of live blobs after every accounting operation.
const recountOnEveryOperation = true
