// Package resolver groups candidate entities that may be the same subject.
//
// Two kinds of groups are reported:
//   - Hard duplicates: the same external key appears more than once in a batch
//   - Soft duplicates: different keys whose normalized names match
//
// The resolver only flags groups. Merging entities is an operator decision.
package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/lueurxax/character-market/internal/core/domain"
)

// minContainedLength keeps very short names from matching everything by containment.
const minContainedLength = 3

// Result is the outcome of resolving one batch.
type Result struct {
	// Candidates holds each external key once, in first-seen order.
	Candidates []domain.Candidate
	Groups     []domain.DuplicateGroup
}

// HardGroups returns the number of hard duplicate groups.
func (r Result) HardGroups() int {
	return r.count(domain.DuplicateHard)
}

// SoftGroups returns the number of soft duplicate groups.
func (r Result) SoftGroups() int {
	return r.count(domain.DuplicateSoft)
}

func (r Result) count(kind domain.DuplicateKind) int {
	n := 0

	for _, g := range r.Groups {
		if g.Kind == kind {
			n++
		}
	}

	return n
}

type Resolver struct{}

func New() *Resolver {
	return &Resolver{}
}

// Resolve flags duplicates within batch and between batch and known entities.
func (r *Resolver) Resolve(batch []domain.Candidate, known []domain.Entity) Result {
	unique, hard := hardDuplicates(batch)

	res := Result{Candidates: unique, Groups: hard}
	res.Groups = append(res.Groups, r.softDuplicates(unique, known)...)

	return res
}

func hardDuplicates(batch []domain.Candidate) ([]domain.Candidate, []domain.DuplicateGroup) {
	seen := make(map[string]int, len(batch))
	unique := make([]domain.Candidate, 0, len(batch))
	names := make(map[string][]string)

	var order []string

	for _, c := range batch {
		key := strings.TrimSpace(c.ExternalKey)
		if key == "" {
			continue
		}

		names[key] = append(names[key], c.DisplayName)

		if _, ok := seen[key]; ok {
			seen[key]++
			continue
		}

		seen[key] = 1
		order = append(order, key)
		unique = append(unique, domain.Candidate{ExternalKey: key, DisplayName: c.DisplayName})
	}

	var groups []domain.DuplicateGroup

	for _, key := range order {
		if seen[key] < 2 {
			continue
		}

		keys := make([]string, seen[key])
		for i := range keys {
			keys[i] = key
		}

		groups = append(groups, domain.DuplicateGroup{Kind: domain.DuplicateHard, Keys: keys, Names: names[key]})
	}

	return unique, groups
}

type item struct {
	key  string
	name string
	norm string
}

func (r *Resolver) softDuplicates(batch []domain.Candidate, known []domain.Entity) []domain.DuplicateGroup {
	items := make([]item, 0, len(batch)+len(known))
	inBatch := make(map[string]bool, len(batch))

	for _, c := range batch {
		inBatch[c.ExternalKey] = true
		items = append(items, item{key: c.ExternalKey, name: c.DisplayName, norm: Normalize(c.DisplayName)})
	}

	for _, e := range known {
		if inBatch[e.ID] {
			continue
		}

		items = append(items, item{key: e.ID, name: e.Name, norm: Normalize(e.Name)})
	}

	parent := make([]int, len(items))
	for i := range parent {
		parent[i] = i
	}

	var find func(int) int

	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}

		return parent[i]
	}

	// Only pairs involving a batch member are compared; known-known pairs were
	// flagged when they first surfaced.
	for i := 0; i < len(batch); i++ {
		for j := i + 1; j < len(items); j++ {
			if similarNormalized(items[i].norm, items[j].norm) {
				parent[find(j)] = find(i)
			}
		}
	}

	members := make(map[int][]int)

	var roots []int

	for i := range items {
		root := find(i)
		if _, ok := members[root]; !ok {
			roots = append(roots, root)
		}

		members[root] = append(members[root], i)
	}

	var groups []domain.DuplicateGroup

	for _, root := range roots {
		idx := members[root]
		if len(idx) < 2 {
			continue
		}

		g := domain.DuplicateGroup{Kind: domain.DuplicateSoft}
		for _, i := range idx {
			g.Keys = append(g.Keys, items[i].key)
			g.Names = append(g.Names, items[i].name)
		}

		groups = append(groups, g)
	}

	return groups
}

// Normalize folds case, strips diacritics and punctuation, and collapses spaces.
// Dots, underscores and hyphens separate words so "D.Luffy" and "D. Luffy" agree.
func Normalize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	folded = cases.Fold().String(folded)

	var sb strings.Builder

	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r) || r == '.' || r == '_' || r == '-':
			sb.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(sb.String()), " ")
}

// Similar reports whether two display names likely refer to the same entity.
func Similar(a, b string) bool {
	return similarNormalized(Normalize(a), Normalize(b))
}

func similarNormalized(a, b string) bool {
	if a == "" || b == "" {
		return false
	}

	if a == b {
		return true
	}

	if strings.ReplaceAll(a, " ", "") == strings.ReplaceAll(b, " ", "") {
		return true
	}

	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}

	if len(short) < minContainedLength {
		return false
	}

	return strings.Contains(" "+long+" ", " "+short+" ")
}
