package pluginloader

import (
	"errors"
	"fmt"

	"github.com/weaver-engine/weaver/internal/plugin"
)

// ErrCycle is returned when a plugin's DependsOn graph contains a cycle.
var ErrCycle = errors.New("pluginloader: dependency cycle")

// ErrMissingDep is returned when a plugin declares a dependency id that
// was not among the metadata passed to TopoSort.
var ErrMissingDep = errors.New("pluginloader: missing dependency")

// TopoSort orders metas so that every plugin appears after all of its
// DependsOn ids, using Kahn's algorithm for a deterministic, cycle-detecting
// ordering.
func TopoSort(metas []plugin.Metadata) ([]plugin.Metadata, error) {
	byID := make(map[string]plugin.Metadata, len(metas))
	for _, m := range metas {
		byID[m.ID] = m
	}

	inDegree := make(map[string]int, len(metas))
	dependents := make(map[string][]string) // dep id -> ids that depend on it
	for _, m := range metas {
		if _, ok := inDegree[m.ID]; !ok {
			inDegree[m.ID] = 0
		}
		for _, dep := range m.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: %q depends on unregistered %q", ErrMissingDep, m.ID, dep)
			}
			inDegree[m.ID]++
			dependents[dep] = append(dependents[dep], m.ID)
		}
	}

	var queue []string
	for _, m := range metas {
		if inDegree[m.ID] == 0 {
			queue = append(queue, m.ID)
		}
	}

	var ordered []plugin.Metadata
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) != len(metas) {
		return nil, fmt.Errorf("%w: involving %d of %d plugins", ErrCycle, len(metas)-len(ordered), len(metas))
	}
	return ordered, nil
}
