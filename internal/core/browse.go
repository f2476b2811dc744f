package core

import (
	"tapesafe/internal/crypto"
	"tapesafe/internal/model"
)

// BrowseEntry is one index node prepared for display: obfuscated names are
// decrypted when a key is supplied and degrade to a locked marker otherwise.
type BrowseEntry struct {
	Node        *model.Node
	DisplayName string
}

// BrowseNodes lists the children of parentID in a tape's file index (root
// level when nil).
func (s *Service) BrowseNodes(tapeID string, parentID *int64, key []byte) ([]BrowseEntry, error) {
	tape, err := s.requireTape(tapeID)
	if err != nil {
		return nil, err
	}

	nodes, err := s.store.ListNodes(tapeID, parentID)
	if err != nil {
		return nil, err
	}

	entries := make([]BrowseEntry, len(nodes))
	for i, n := range nodes {
		entries[i] = BrowseEntry{
			Node:        n,
			DisplayName: crypto.DisplayName(n.Name, tape.Encrypted, key),
		}
	}
	return entries, nil
}
