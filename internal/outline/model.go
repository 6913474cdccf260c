// Package outline implements the workspace outline engine: the data model for a
// concept's groups and items, the normalizer that repairs any stored or predicted
// workspace into a structurally valid one, the authoritative patch applicator and
// the strict validator used for full replacements.
package outline

// SchemaVersion is stamped on every normalized workspace.
const SchemaVersion = 1

// DefaultGroupTitle names the group created when a workspace has none.
const DefaultGroupTitle = "Workspace"

type ItemType string

const (
	TypeHighlight ItemType = "highlight"
	TypeArticle   ItemType = "article"
	TypeNote      ItemType = "note"
	TypeQuestion  ItemType = "question"
)

func (t ItemType) Valid() bool {
	switch t {
	case TypeHighlight, TypeArticle, TypeNote, TypeQuestion:
		return true
	default:
		return false
	}
}

type Stage string

const (
	StageInbox    Stage = "inbox"
	StageWorking  Stage = "working"
	StageClaim    Stage = "claim"
	StageEvidence Stage = "evidence"
)

func (s Stage) Valid() bool {
	switch s {
	case StageInbox, StageWorking, StageClaim, StageEvidence:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusArchived
}

type Group struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Collapsed   bool   `json:"collapsed"`
	Order       int    `json:"order"`
}

// Item references one external entity. ParentID is empty for root items.
type Item struct {
	ID       string   `json:"id"`
	Type     ItemType `json:"type"`
	RefID    string   `json:"refId"`
	GroupID  string   `json:"groupId"`
	ParentID string   `json:"parentId"`
	Stage    Stage    `json:"stage"`
	Status   Status   `json:"status"`
	Order    int      `json:"order"`
}

// Workspace is the normalized outline of one concept. UpdatedAt is an RFC 3339
// timestamp in UTC.
type Workspace struct {
	SchemaVersion int     `json:"schemaVersion"`
	Groups        []Group `json:"groups"`
	Items         []Item  `json:"items"`
	UpdatedAt     string  `json:"updatedAt"`
}

// Clone returns a copy that shares no slices with w.
func (w Workspace) Clone() Workspace {
	out := w
	out.Groups = append(make([]Group, 0, len(w.Groups)), w.Groups...)
	out.Items = append(make([]Item, 0, len(w.Items)), w.Items...)
	return out
}

// Raw converts w back into its tolerant wire form so it can be re-normalized.
func (w Workspace) Raw() RawWorkspace {
	raw := RawWorkspace{
		SchemaVersion: w.SchemaVersion,
		Groups:        make([]RawGroup, 0, len(w.Groups)),
		Items:         make([]RawItem, 0, len(w.Items)),
		UpdatedAt:     w.UpdatedAt,
	}
	for _, g := range w.Groups {
		raw.Groups = append(raw.Groups, RawGroup{
			ID:          g.ID,
			Title:       g.Title,
			Description: g.Description,
			Collapsed:   g.Collapsed,
			Order:       orderPtr(g.Order),
		})
	}
	for _, it := range w.Items {
		raw.Items = append(raw.Items, RawItem{
			ID:       it.ID,
			Type:     string(it.Type),
			RefID:    it.RefID,
			GroupID:  it.GroupID,
			ParentID: it.ParentID,
			Stage:    string(it.Stage),
			Status:   string(it.Status),
			Order:    orderPtr(it.Order),
		})
	}
	return raw
}

func (w Workspace) group(id string) int {
	for i, g := range w.Groups {
		if g.ID == id {
			return i
		}
	}
	return -1
}

func (w Workspace) item(id string) int {
	for i, it := range w.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// RawGroup and RawItem mirror Group and Item but accept whatever a stored blob
// or an external client supplied: a missing order, unknown enum strings, empty ids.
type RawGroup struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Collapsed   bool     `json:"collapsed"`
	Order       *float64 `json:"order"`
}

type RawItem struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	RefID    string   `json:"refId"`
	GroupID  string   `json:"groupId"`
	ParentID string   `json:"parentId"`
	Stage    string   `json:"stage"`
	Status   string   `json:"status"`
	Order    *float64 `json:"order"`
}

type RawWorkspace struct {
	SchemaVersion int        `json:"schemaVersion"`
	Groups        []RawGroup `json:"groups"`
	Items         []RawItem  `json:"items"`
	UpdatedAt     string     `json:"updatedAt"`

	// issues lists the mistyped fields DecodeRaw coerced or dropped.
	issues []string
}

// Issues reports the fields DecodeRaw had to coerce or drop, indexed like
// Validate's messages.
func (r RawWorkspace) Issues() []string {
	return r.issues
}

func orderPtr(order int) *float64 {
	v := float64(order)
	return &v
}
