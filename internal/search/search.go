// Package search finds groups by title and description within a concept's
// workspace. Meilisearch serves queries when it is configured and healthy;
// otherwise the groups of the live workspace are matched in process.
package search

import (
	"crypto/sha1"
	"encoding/hex"

	"marginalia/api/internal/outline"
)

// GroupRecord is the document indexed for one group.
type GroupRecord struct {
	ID          string `json:"id"`
	ConceptID   string `json:"conceptId"`
	GroupID     string `json:"groupId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// Hit is a single search result.
type Hit struct {
	GroupID     string `json:"groupId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Snippet     string `json:"snippet,omitempty"`
}

type Query struct {
	ConceptID string
	Text      string
	Limit     int
}

// Response is the envelope returned by the groups endpoint.
type Response struct {
	Groups []Hit  `json:"groups"`
	Total  int    `json:"total"`
	Query  string `json:"query"`
	Source string `json:"source"`
}

// Backend is an external index. Meili is the production implementation.
type Backend interface {
	Healthy() bool
	Search(q Query) ([]Hit, int, error)
	IndexGroups(records []GroupRecord) error
	DeleteGroups(ids []string) error
	ConceptGroupIDs(conceptID string) ([]string, error)
}

// RecordID derives an index primary key. Meilisearch only accepts
// [A-Za-z0-9_-], so the concept and group ids are hashed.
func RecordID(conceptID, groupID string) string {
	sum := sha1.Sum([]byte(conceptID + "\x00" + groupID))
	return hex.EncodeToString(sum[:])
}

// RecordsFor lists the index documents for every group of ws.
func RecordsFor(conceptID string, ws outline.Workspace) []GroupRecord {
	records := make([]GroupRecord, 0, len(ws.Groups))
	for _, g := range ws.Groups {
		records = append(records, GroupRecord{
			ID:          RecordID(conceptID, g.ID),
			ConceptID:   conceptID,
			GroupID:     g.ID,
			Title:       g.Title,
			Description: g.Description,
			Order:       g.Order,
		})
	}
	return records
}
