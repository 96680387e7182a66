package extract

import (
	"strings"

	"golang.org/x/net/html"

	"linkatlas/internal/models"
)

// landmarkTags maps semantic landmark elements to positions.
var landmarkTags = map[string]models.LinkPosition{
	"header": models.PositionHeader,
	"footer": models.PositionFooter,
	"nav":    models.PositionNavigation,
	"aside":  models.PositionSidebar,
	"main":   models.PositionMain,
}

// landmarkRoles maps ARIA landmark roles to positions, for pages that mark
// regions with role attributes instead of semantic tags.
var landmarkRoles = map[string]models.LinkPosition{
	"banner":        models.PositionHeader,
	"contentinfo":   models.PositionFooter,
	"navigation":    models.PositionNavigation,
	"complementary": models.PositionSidebar,
	"main":          models.PositionMain,
}

// classifyPosition determines which page region an anchor sits in. The
// nearest enclosing landmark ancestor wins; with no landmark, the anchor's
// own class attribute is scanned for region keywords; the default is Main.
func classifyPosition(anchor *html.Node) models.LinkPosition {
	depth := 0
	for cur := anchor.Parent; cur != nil && depth < maxDepth; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			break
		}
		if pos, ok := landmarkTags[cur.Data]; ok {
			return pos
		}
		if pos, ok := landmarkRoles[strings.ToLower(attr(cur, "role"))]; ok {
			return pos
		}
		depth++
	}
	return classifyByClass(attr(anchor, "class"))
}

// classifyByClass is the fallback substring scan over the anchor's class.
// The keyword order is part of the contract: header/nav first, then footer,
// sidebar/aside, main/content.
func classifyByClass(class string) models.LinkPosition {
	c := strings.ToLower(class)
	switch {
	case strings.Contains(c, "header") || strings.Contains(c, "nav"):
		return models.PositionHeader
	case strings.Contains(c, "footer"):
		return models.PositionFooter
	case strings.Contains(c, "sidebar") || strings.Contains(c, "aside"):
		return models.PositionSidebar
	case strings.Contains(c, "main") || strings.Contains(c, "content"):
		return models.PositionMain
	default:
		return models.PositionMain
	}
}
