package httpapi

import (
	"encoding/json"
	"time"

	"github.com/newsclust/newsclust/internal/cluster"
)

// liveEvent is the wire shape pushed to websocket subscribers: a
// cluster.Event plus a server-stamped timestamp, since cluster.Event
// carries no time of its own.
type liveEvent struct {
	ArticleID      string  `json:"article_id"`
	ClusterID      string  `json:"cluster_id,omitempty"`
	Outcome        string  `json:"outcome"`
	Jaccard        float64 `json:"jaccard,omitempty"`
	MergeCandidate bool    `json:"merge_candidate,omitempty"`
	At             time.Time `json:"at"`
}

func eventJSON(ev cluster.Event) ([]byte, error) {
	return json.Marshal(liveEvent{
		ArticleID:      ev.ArticleID,
		ClusterID:      ev.ClusterID,
		Outcome:        ev.Outcome.String(),
		Jaccard:        ev.Jaccard,
		MergeCandidate: ev.MergeCandidate,
		At:             time.Now().UTC(),
	})
}
