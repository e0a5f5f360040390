// Package assets downloads and persists the three artifacts on-device
// inference needs: the model weights, the label list and the per-channel
// normalization statistics.
//
// # Storage
//
// Assets are stored whole under their logical key (model, labels, mean_std)
// through a Store. SQLiteStore keeps them in one database file and is the
// default on clients; DirStore keeps one file per asset named after its
// endpoint, which lets the server expose the same directory as its asset root.
//
// # Downloads
//
// Cache.EnsureCached fetches only what is missing, concurrently, and keeps
// whatever succeeded when another asset fails. Reads never download.
package assets
