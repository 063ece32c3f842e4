// Package filestore reads and writes the JSON fragment files that make up
// a configuration directory.
//
// # Overview
//
// A store is rooted at one managed directory. LoadAll parses every *.json
// file beneath it into a Manifest of fragments; MergedTree mounts the
// fragments through a pathmap.Map and folds them into a single
// configtree.Tree. WriteAll is the inverse: it splits a tree back into
// per-file documents and commits only the ones whose bytes changed.
//
// # Load Semantics
//
// A load is all-or-nothing. The first fragment that fails to parse aborts
// the whole load with a *ParseError carrying the file and line; callers
// never see a manifest missing some of the directory's content. Parsing
// preserves document key order and rejects duplicate keys, so what loads
// is exactly what an operator committed.
//
// # Write Semantics
//
// Writes are staged as hidden temp files and renamed into place only once
// every fragment staged cleanly, so a crash or full disk mid-write cannot
// leave the directory half-updated. Fragments that render byte-identical
// to what is on disk are skipped; modification times move only when
// content does. Files whose mounted section emptied are rewritten as {}
// rather than deleted.
//
// # Hardening
//
// Fragment paths are confined to the store root, files must be regular
// and under the size cap, and raw bytes are depth-checked before decoding.
// The caps are per-store tunable through options.
package filestore
