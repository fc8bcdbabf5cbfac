package chat

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/samer-khoury/mizan/models"
)

// SearchHit is one full-text match across a user's session history.
type SearchHit struct {
	SessionID    string  `json:"session_id"`
	SessionTitle string  `json:"session_title"`
	TS           int64   `json:"ts"`
	Role         string  `json:"role"`
	Snippet      string  `json:"snippet"`
	Score        float64 `json:"score"`
	Rank         int     `json:"rank"`
}

type indexedMessage struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

type hitMeta struct {
	userID       string
	sessionID    string
	sessionTitle string
	ts           int64
	role         models.Role
	content      string
}

// SearchIndex is an in-memory full-text index over session messages. It is a
// cache rebuilt from the store on startup; losing it loses nothing durable.
type SearchIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	meta  map[string]hitMeta // doc id -> display metadata
}

// NewSearchIndex creates an empty memory-only index.
func NewSearchIndex() (*SearchIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return &SearchIndex{index: idx, meta: make(map[string]hitMeta)}, nil
}

func docID(sessionID string, ts int64) string {
	return fmt.Sprintf("%s:%d", sessionID, ts)
}

// IndexMessage adds or reindexes one message.
func (s *SearchIndex) IndexMessage(sess *models.Session, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := docID(sess.ID, msg.TS)
	s.meta[id] = hitMeta{
		userID:       sess.UserID,
		sessionID:    sess.ID,
		sessionTitle: sess.Title,
		ts:           msg.TS,
		role:         msg.Role,
		content:      msg.Content,
	}
	return s.index.Index(id, indexedMessage{UserID: sess.UserID, Content: msg.Content})
}

// RemoveSession drops every indexed message of a session.
func (s *SearchIndex) RemoveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.meta {
		if m.sessionID == sessionID {
			_ = s.index.Delete(id)
			delete(s.meta, id)
		}
	}
}

// Rebuild replaces the index contents with the given sessions.
func (s *SearchIndex) Rebuild(sessions map[string]*models.Session) error {
	for _, sess := range sessions {
		for _, msg := range sess.Messages {
			if msg.Content == "" {
				continue
			}
			if err := s.IndexMessage(sess, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Search returns the top k matches for the user's query.
func (s *SearchIndex) Search(userID, q string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	query := bleve.NewQueryStringQuery(q)
	// Over-fetch so per-user filtering still fills k results.
	req := bleve.NewSearchRequestOptions(query, k*3, 0, false)

	s.mu.RLock()
	defer s.mu.RUnlock()
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	var out []SearchHit
	for _, hit := range res.Hits {
		m, ok := s.meta[hit.ID]
		if !ok || m.userID != userID {
			continue
		}
		out = append(out, SearchHit{
			SessionID:    m.sessionID,
			SessionTitle: m.sessionTitle,
			TS:           m.ts,
			Role:         string(m.role),
			Snippet:      snippet(m.content),
			Score:        hit.Score,
			Rank:         len(out) + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func snippet(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
