// Package core contains the shared domain types of SentinelMesh: agent
// identities and profiles, conversation sessions and turns, retrieval
// results, the transient per-query state threaded through the engine, and
// the error taxonomy used to classify failures into degradation paths.
//
// The types here are deliberately free of behavior beyond invariant
// enforcement so that every other package can depend on core without
// cycles.
package core
