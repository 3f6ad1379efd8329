package report

import (
	"fmt"

	"github.com/xlab/treeprint"

	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/types"
)

func statusColor(kind types.StatusKind) string {
	switch kind {
	case types.StatusPassedProof, types.StatusPassedWitness:
		return evmcommon.ColorGreen
	case types.StatusIgnored, types.StatusCancelled:
		return evmcommon.ColorGray
	case types.StatusTimedOut:
		return evmcommon.ColorYellow
	}
	return evmcommon.ColorRed
}

// Tree renders results as group, sub-group and test branches. color adds
// ANSI colors to each test's status.
func (rep *Report) Tree(color bool) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("results (%d passed, %d failed, %d ignored)",
		rep.Totals.PassedProof+rep.Totals.PassedWitness, rep.Totals.Failed(), rep.Totals.Ignored))

	var group, sub treeprint.Tree
	var groupName, subName string
	for _, r := range rep.results {
		if g := r.Identity.Group(); group == nil || g != groupName {
			group, groupName, sub = tree.AddBranch(g), g, nil
		}
		if s := r.Identity.SubGroup(); sub == nil || s != subName {
			sub, subName = group.AddBranch(s), s
		}
		status := evmcommon.Colorize(r.Status.String(), statusColor(r.Status.Kind), color)
		sub.AddNode(fmt.Sprintf("%s: %s", r.Identity.Test(), status))
	}
	return tree
}
