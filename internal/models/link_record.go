package models

// LinkPosition names the semantic page region an anchor was found in.
type LinkPosition string

const (
	PositionHeader     LinkPosition = "header"
	PositionFooter     LinkPosition = "footer"
	PositionNavigation LinkPosition = "navigation"
	PositionSidebar    LinkPosition = "sidebar"
	PositionMain       LinkPosition = "main"
)

// LinkRecord is one outbound link extracted from a page, with its structural
// fingerprint and position classification. Immutable once produced.
type LinkRecord struct {
	TargetURL  string       `json:"target_url"`
	AnchorText string       `json:"anchor_text"`
	XPath      string       `json:"xpath"`
	Position   LinkPosition `json:"position"`
	Rel        string       `json:"rel,omitempty"`
	NoFollow   bool         `json:"nofollow"`
}
