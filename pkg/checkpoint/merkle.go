package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Domain-separated leaf and node prefixes keep entry hashes from being
// replayable as interior nodes.
const (
	leafPrefix = "recourse:checkpoint:leaf:v1"
	nodePrefix = "recourse:checkpoint:node:v1"
)

// merkleRoot folds the entry verification hashes into a single root,
// duplicating the last node at odd-sized levels. An empty tree has an
// empty root.
func merkleRoot(entryHashes []string) string {
	if len(entryHashes) == 0 {
		return ""
	}

	level := make([]string, len(entryHashes))
	for i, h := range entryHashes {
		level[i] = leafHash(h)
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = nodeHash(level[i], level[i+1])
		}
		level = next
	}
	return level[0]
}

func leafHash(entryHash string) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.WriteString(entryHash)
	return sha256Hex(buf.Bytes())
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
