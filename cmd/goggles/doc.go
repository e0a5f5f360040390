// Command goggles identifies whiskey bottles from a photo against the local
// catalog.
//
// Model assets are downloaded once with `goggles assets fetch` and reused
// offline afterwards; `goggles classify IMAGE` never downloads unless --fetch
// is given.
package main
