package graph

// SegmentHash derives a stable numeric id for a street piece. The node pair is
// sorted first so both directions of a street share the id; key carries the
// parallel-edge key and, for split edges, the piece index (index*1000 + key).
// Arithmetic wraps modulo 2^64.
func SegmentHash(u, v NodeID, key int) uint64 {
	lo, hi := uint64(u), uint64(v)
	if u > v {
		lo, hi = uint64(v), uint64(u)
	}
	return (lo * 2654435761) ^ (hi * 40503) ^ (uint64(key) * 97)
}

// PieceKey combines a piece index and an edge key into the key passed to SegmentHash
func PieceKey(pieceIndex, edgeKey int) int {
	return pieceIndex*1000 + edgeKey
}
