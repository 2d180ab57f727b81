package storage

import (
	"sort"
	"strings"

	"evalgo.org/unifiedviews/models"
)

func sortTemplates(ts []*models.DPUTemplate) {
	sort.SliceStable(ts, func(i, j int) bool {
		return strings.ToLower(ts[i].Name) < strings.ToLower(ts[j].Name)
	})
}

func sortPipelines(ps []*models.Pipeline) {
	sort.SliceStable(ps, func(i, j int) bool {
		return strings.ToLower(ps[i].Name) < strings.ToLower(ps[j].Name)
	})
}

// sortExecutions orders newest first.
func sortExecutions(es []*models.Execution) {
	sort.SliceStable(es, func(i, j int) bool {
		return es[i].CreatedAt.After(es[j].CreatedAt)
	})
}

func sortSchedules(ss []*models.Schedule) {
	sort.SliceStable(ss, func(i, j int) bool {
		if ss[i].Priority != ss[j].Priority {
			return ss[i].Priority > ss[j].Priority
		}
		return ss[i].CreatedAt.Before(ss[j].CreatedAt)
	})
}

func sortUsers(us []*models.User) {
	sort.SliceStable(us, func(i, j int) bool {
		return us[i].Username < us[j].Username
	})
}

func sortPrefixes(ps []*models.NamespacePrefix) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].Name < ps[j].Name
	})
}
