package merging

import (
	"unicode/utf8"

	"github.com/Gobusters/ectolinq"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/models"
)

// FieldMerger computes the surviving field values of a merge. Inputs are ordered primary first,
// then duplicates in request order; every rule that breaks ties prefers the earlier entity.
type FieldMerger struct{}

func NewFieldMerger() *FieldMerger {
	return &FieldMerger{}
}

// Merge returns a copy of primary carrying the merged values. Identity fields (id, tenant, type,
// source, version) stay the primary's.
func (m *FieldMerger) Merge(primary models.Entity, duplicates []models.Entity) models.Entity {
	all := append([]models.Entity{primary}, duplicates...)
	out := primary.Clone()

	out.Name = m.longest(ectolinq.Map(all, func(e models.Entity) string { return e.Name }))
	out.Organization = m.longest(ectolinq.Map(all, func(e models.Entity) string { return e.Organization }))
	out.Position = m.longest(ectolinq.Map(all, func(e models.Entity) string { return e.Position }))
	out.Email = m.firstNonEmpty(ectolinq.Map(all, func(e models.Entity) string { return e.Email }))
	out.Phone = m.firstNonEmpty(ectolinq.Map(all, func(e models.Entity) string { return e.Phone }))
	out.Tags = m.unionTags(all)
	out.CustomFields = models.DeepMerge(ectolinq.Map(all, func(e models.Entity) models.CustomFields { return e.CustomFields })...)
	out.Score = m.maxScore(all)

	for _, e := range all {
		if !e.CreatedAt.IsZero() && e.CreatedAt.Before(out.CreatedAt) {
			out.CreatedAt = e.CreatedAt
		}
	}
	return out
}

// longest returns the longest non-empty value by character count
func (m *FieldMerger) longest(values []string) string {
	result := ""
	for _, v := range values {
		if utf8.RuneCountInString(v) > utf8.RuneCountInString(result) {
			result = v
		}
	}
	return result
}

func (m *FieldMerger) firstNonEmpty(values []string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// unionTags keeps first-seen order and drops repeats
func (m *FieldMerger) unionTags(entities []models.Entity) pq.StringArray {
	tags := pq.StringArray{}
	for _, e := range entities {
		for _, tag := range e.Tags {
			if tag != "" && !ectolinq.Contains([]string(tags), tag) {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

func (m *FieldMerger) maxScore(entities []models.Entity) *float64 {
	var best *float64
	for _, e := range entities {
		if e.Score == nil {
			continue
		}
		if best == nil || *e.Score > *best {
			score := *e.Score
			best = &score
		}
	}
	return best
}
