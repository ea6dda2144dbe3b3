// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// MarkInplace grants the engine permission to overwrite the storage of donated
// initial-values inputs, letting a recurrence whose retention window equals its tap
// depth run entirely inside the donated tensor with no extra allocation.
//
// donated lists the values whose storage the caller relinquishes: it must not read
// them after Run. Marking is permission, not obligation: a value is actually reused
// only when its buffer needs no rows beyond the initial ones.
//
// The pass proves alias freedom per value before marking: the value must be the
// initial-values input of exactly one recurrence and appear exactly once among the
// node's outer inputs, and must not be produced by another Scan node (its true owner
// could still read it). Values failing the proof are skipped with the reason logged;
// applied is true when at least one value was marked.
func MarkInplace(node *Node, donated map[*Value]bool) (*Node, bool) {
	if len(donated) == 0 {
		return node, false
	}
	marks := make([]bool, len(node.outerInputs))
	applied := false
	for value := range donated {
		pos := NoCorrespondence
		occurrences := 0
		for ii, input := range node.outerInputs {
			if input == value {
				occurrences++
				pos = ii
			}
		}
		switch {
		case occurrences == 0:
			klog.V(1).Infof("scan %q: not donating %q, not an outer input of this node", node.Name(), value.Name())
			continue
		case occurrences > 1:
			klog.V(1).Infof("scan %q: not donating %q, aliased across %d outer inputs", node.Name(), value.Name(), occurrences)
			continue
		}
		if role := node.roleOfOuterInput(pos); role == nil || !role.IsRecurrent() {
			klog.V(1).Infof("scan %q: not donating %q, not an initial-values input", node.Name(), value.Name())
			continue
		}
		if producer, _ := value.Producer(); producer != nil {
			klog.V(1).Infof("scan %q: not donating %q, produced by scan %q which owns its storage",
				node.Name(), value.Name(), producer.Name())
			continue
		}
		marks[pos] = true
		applied = true
	}
	if !applied {
		return node, false
	}

	newNode, err := New(node.Name(), node.body, node.configuration())
	if err != nil {
		exceptions.Panicf("scan %q: MarkInplace produced an invalid node: %+v", node.Name(), err)
	}
	newNode.preludes = node.preludes
	copy(newNode.donatable, node.donatable)
	for pos, marked := range marks {
		if marked {
			newNode.donatable[pos] = true
		}
	}
	return newNode, true
}
