package lsp

import (
	"cmp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dshills/lspmux/internal/logging"
)

// RankCategory orders how well a proposal matches what was typed.
// Lower is better.
type RankCategory int

// Match categories, best first.
const (
	CategoryExact RankCategory = iota + 1
	CategoryExactIgnoreCase
	CategoryPrefix
	CategoryPrefixIgnoreCase
	CategorySubsequence

	// CategoryNoMatch and above are not matches.
	CategoryNoMatch
)

// String returns the category name.
func (c RankCategory) String() string {
	switch c {
	case CategoryExact:
		return "exact"
	case CategoryExactIgnoreCase:
		return "exact-ignore-case"
	case CategoryPrefix:
		return "prefix"
	case CategoryPrefixIgnoreCase:
		return "prefix-ignore-case"
	case CategorySubsequence:
		return "subsequence"
	default:
		return "no-match"
	}
}

// Matched reports whether c is a match category.
func (c RankCategory) Matched() bool {
	return c < CategoryNoMatch
}

// Unscored marks a proposal without a rank score.
const Unscored = -1.0

// Proposal is a completion item prepared for ranking.
type Proposal struct {
	Item     CompletionItem
	Category RankCategory

	// Score refines the order within a category; lower is better.
	// Unscored proposals follow every scored one.
	Score float64

	SortText string

	filterOnce sync.Once
	filterFn   func() (string, error)
	filterText string
	filterErr  error
}

// NewProposal ranks item against the text typed in the document. The filter
// function is evaluated once, now, to compute the category; its result is
// memoized for the comparator.
func NewProposal(item CompletionItem, filter func() (string, error)) *Proposal {
	p := &Proposal{
		Item:     item,
		Category: CategoryNoMatch,
		Score:    Unscored,
		SortText: item.SortKey(),
		filterFn: filter,
	}
	typed, err := p.FilterText()
	if err != nil {
		return p
	}
	p.Category, p.Score = matchFilter(typed, item.FilterKey())
	return p
}

// NewRankedProposal builds a proposal with an explicit category and score.
func NewRankedProposal(item CompletionItem, category RankCategory, score float64, filter func() (string, error)) *Proposal {
	return &Proposal{
		Item:     item,
		Category: category,
		Score:    score,
		SortText: item.SortKey(),
		filterFn: filter,
	}
}

// FilterText returns the document text the proposal is filtered against.
// It is computed at most once.
func (p *Proposal) FilterText() (string, error) {
	p.filterOnce.Do(func() {
		if p.filterFn == nil {
			return
		}
		p.filterText, p.filterErr = p.filterFn()
	})
	return p.filterText, p.filterErr
}

// matchFilter classifies candidate against typed.
func matchFilter(typed, candidate string) (RankCategory, float64) {
	if typed == "" {
		return CategoryPrefix, Unscored
	}
	switch {
	case candidate == typed:
		return CategoryExact, Unscored
	case strings.EqualFold(candidate, typed):
		return CategoryExactIgnoreCase, Unscored
	case strings.HasPrefix(candidate, typed):
		return CategoryPrefix, Unscored
	case len(candidate) >= len(typed) && strings.EqualFold(candidate[:len(typed)], typed):
		return CategoryPrefixIgnoreCase, Unscored
	}
	if gaps, ok := subsequenceGaps(typed, candidate); ok {
		return CategorySubsequence, float64(gaps)
	}
	return CategoryNoMatch, Unscored
}

// subsequenceGaps reports whether typed occurs in candidate as a
// case-insensitive subsequence and counts the skipped runes between
// matched ones.
func subsequenceGaps(typed, candidate string) (int, bool) {
	t := []rune(strings.ToLower(typed))
	ti, gaps, started := 0, 0, false
	for _, r := range strings.ToLower(candidate) {
		if ti == len(t) {
			break
		}
		if r == t[ti] {
			ti++
			started = true
			continue
		}
		if started {
			gaps++
		}
	}
	return gaps, ti == len(t)
}

// DocumentFilter returns a lazy filter reading the text between the
// completion replace start and the cursor.
func DocumentFilter(conv *PositionConverter, replaceStart, cursor Position) func() (string, error) {
	return func() (string, error) {
		return conv.Text(replaceStart, cursor)
	}
}

// Ranker orders proposals. The zero value logs nothing.
type Ranker struct {
	logger *logging.Logger
}

// NewRanker creates a ranker that logs filter failures to logger.
func NewRanker(logger *logging.Logger) *Ranker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Ranker{logger: logger.WithComponent("ranker")}
}

// Compare returns a negative number when a ranks before b, positive when
// after, and zero when they are equivalent.
//
// Matched proposals with a longer filter text come first; then lower
// categories; then, within a matched category, lower scores with unscored
// last; then sort text ignoring case. When either filter text cannot be
// computed the length step is skipped.
func (r *Ranker) Compare(a, b *Proposal) int {
	if a.Category.Matched() && b.Category.Matched() {
		if c, ok := r.compareFilterLength(a, b); ok && c != 0 {
			return c
		}
	}

	if c := cmp.Compare(a.Category, b.Category); c != 0 {
		return c
	}

	if a.Category.Matched() {
		if c := compareScores(a.Score, b.Score); c != 0 {
			return c
		}
	}

	return compareFold(a.SortText, b.SortText)
}

func (r *Ranker) compareFilterLength(a, b *Proposal) (int, bool) {
	fa, err := a.FilterText()
	if err != nil {
		r.log().Debug("filter text for %q: %v", a.Item.Label, err)
		return 0, false
	}
	fb, err := b.FilterText()
	if err != nil {
		r.log().Debug("filter text for %q: %v", b.Item.Label, err)
		return 0, false
	}
	// Longer first.
	return cmp.Compare(utf8.RuneCountInString(fb), utf8.RuneCountInString(fa)), true
}

func (r *Ranker) log() *logging.Logger {
	if r == nil || r.logger == nil {
		return logging.Nop()
	}
	return r.logger
}

func compareScores(a, b float64) int {
	aUnscored, bUnscored := a == Unscored, b == Unscored
	switch {
	case aUnscored && bUnscored:
		return 0
	case aUnscored:
		return 1
	case bUnscored:
		return -1
	default:
		return cmp.Compare(a, b)
	}
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// Sort orders proposals in place. Equivalent proposals keep their order.
func (r *Ranker) Sort(proposals []*Proposal) {
	sort.SliceStable(proposals, func(i, j int) bool {
		return r.Compare(proposals[i], proposals[j]) < 0
	})
}

// CompareProposals compares with a ranker that does not log.
func CompareProposals(a, b *Proposal) int {
	return (&Ranker{}).Compare(a, b)
}

// SortProposals sorts with a ranker that does not log.
func SortProposals(proposals []*Proposal) {
	(&Ranker{}).Sort(proposals)
}
