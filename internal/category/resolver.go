// Package category normalizes the heterogeneous category shapes found in
// historical ledger data (structured {id, name} pairs, bare display
// strings, or nothing but a free-text note) against a canonical id table.
package category

import (
	"sort"
	"strings"

	"moneybook/internal/cache"
	"moneybook/internal/core"
)

// Sentinel targets understood by Matches.
const (
	Overall = "overall" // matches every entry
	Other   = "other"   // matches entries that belong to no named category
)

// displayNames maps canonical ids to a default display form, used when an
// entry is resolved without any usable display string of its own.
var displayNames = map[string]string{
	"food":           "Food",
	"transportation": "Transportation",
	"entertainment":  "Entertainment",
	"shopping":       "Shopping",
	"housing":        "Housing",
	"utilities":      "Utilities",
	"medical":        "Medical",
	"education":      "Education",
	"social":         "Social",
	Other:            "Other",
}

// aliases maps canonical ids to known display aliases, lowercase. Matching
// is by equality or substring containment of an alias, which is knowingly
// imprecise for aliases that occur inside unrelated words; that behavior is
// load-bearing for historical data and must not be extended.
var aliases = map[string][]string{
	"food":           {"food", "meal", "dining", "餐飲", "飲食", "食物", "早餐", "午餐", "晚餐", "宵夜", "飲料"},
	"transportation": {"transport", "commute", "交通", "車資", "捷運", "公車", "計程車", "加油", "停車"},
	"entertainment":  {"entertainment", "娛樂", "電影", "遊戲", "唱歌", "展覽"},
	"shopping":       {"shopping", "clothes", "購物", "衣服", "網購", "日用品"},
	"housing":        {"housing", "rent", "居住", "房租", "房貸"},
	"utilities":      {"utility", "utilities", "水電", "電費", "水費", "瓦斯", "網路費"},
	"medical":        {"medical", "health", "醫療", "看醫生", "藥", "保健"},
	"education":      {"education", "tuition", "教育", "學費", "補習", "書籍"},
	"social":         {"social", "gift", "人情", "紅包", "禮物", "聚餐"},
}

var namedIDs = func() []string {
	ids := make([]string, 0, len(displayNames))
	for id := range displayNames {
		if id != Other {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}()

// alias matching does substring scans over the table above; entries are
// compared repeatedly against the same targets, so memoize per (name, target).
var matchMemo = cache.NewLRU[bool](4096)

// IDs returns every canonical category id, "other" last.
func IDs() []string {
	return append(append([]string(nil), namedIDs...), Other)
}

// DisplayName returns the default display form of a canonical id.
func DisplayName(id string) string {
	if n, ok := displayNames[strings.ToLower(id)]; ok {
		return n
	}
	return id
}

// Resolve normalizes a raw category into a canonical Category. The three
// historical shapes are tried in order: structured id, display name or
// bare string, then the free-text note. Unresolvable input falls back to
// "other"; a Resolve result always has a canonical ID.
func Resolve(rawID, rawName, note string) core.Category {
	id := strings.ToLower(strings.TrimSpace(rawID))
	if _, ok := displayNames[id]; ok {
		return core.Category{ID: id, Name: pickName(rawName, id)}
	}
	if name := strings.TrimSpace(rawName); name != "" {
		for _, cand := range namedIDs {
			if nameMatches(name, cand) {
				return core.Category{ID: cand, Name: name}
			}
		}
	}
	if n := strings.TrimSpace(note); n != "" {
		for _, cand := range namedIDs {
			if nameMatches(n, cand) {
				return core.Category{ID: cand, Name: pickName(rawName, cand)}
			}
		}
	}
	return core.Category{ID: Other, Name: pickName(rawName, Other)}
}

// Matches decides whether the entry belongs to the target canonical id.
// "overall" matches unconditionally; "other" matches iff no named category
// does, so every entry matches exactly one named category or "other".
func Matches(e core.LedgerEntry, target string) bool {
	target = strings.ToLower(strings.TrimSpace(target))
	switch target {
	case "":
		return false
	case Overall:
		return true
	case Other:
		for _, id := range namedIDs {
			if matchesNamed(e, id) {
				return false
			}
		}
		return true
	default:
		return matchesNamed(e, target)
	}
}

// MatchesScope reports membership in a budget scope: overall, single
// category, or multi-category union (any id in the set).
func MatchesScope(e core.LedgerEntry, scope core.BudgetScope) bool {
	if scope.IsOverall() {
		return true
	}
	for _, id := range scope.Categories {
		if Matches(e, id) {
			return true
		}
	}
	return false
}

func matchesNamed(e core.LedgerEntry, target string) bool {
	if strings.EqualFold(e.Category.ID, target) {
		return true
	}
	name := e.Category.Name
	if name == "" {
		name = e.Note
	}
	return nameMatches(name, target)
}

func nameMatches(name, target string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	key := target + "\x1f" + name
	return matchMemo.GetOrCompute(key, func() bool {
		if name == target {
			return true
		}
		for _, a := range aliases[target] {
			if name == a || strings.Contains(name, a) {
				return true
			}
		}
		return false
	})
}

func pickName(rawName, id string) string {
	if n := strings.TrimSpace(rawName); n != "" {
		return n
	}
	return DisplayName(id)
}
