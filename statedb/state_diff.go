package statedb

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/nsf/jsondiff"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"

	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/types"
)

// accountView is the JSON shape accounts are compared in. Zero storage is dropped.
type accountView struct {
	Balance string            `json:"balance"`
	Nonce   uint64            `json:"nonce"`
	Code    string            `json:"code"`
	Storage map[string]string `json:"storage"`
}

func viewOf(acct *types.Account) accountView {
	v := accountView{Balance: "0", Nonce: acct.Nonce, Code: hexutil.Encode(acct.Code), Storage: map[string]string{}}
	if acct.Balance != nil {
		v.Balance = acct.Balance.Dec()
	}
	for slot, value := range acct.Storage {
		if value == nil || value.IsZero() {
			continue
		}
		v.Storage[slot.Hex()] = value.Hex()
	}
	return v
}

func viewsOf(accounts types.AccountMap) map[string]accountView {
	out := make(map[string]accountView, len(accounts))
	for addr, acct := range accounts {
		out[addr.Hex()] = viewOf(acct)
	}
	return out
}

// AccountDiff describes one account whose expected and actual views differ.
type AccountDiff struct {
	Address common.Address
	Match   string // nsf/jsondiff classification
	Detail  string
}

// StateDiff is the human-readable comparison of an expected and an actual state.
type StateDiff struct {
	Accounts []AccountDiff
	Text     string
}

func (d *StateDiff) Empty() bool {
	return d == nil || len(d.Accounts) == 0
}

func (d *StateDiff) String() string {
	if d.Empty() {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d account(s) differ:\n", len(d.Accounts))
	for _, a := range d.Accounts {
		fmt.Fprintf(&sb, "  %s %s\n", a.Address.Hex(), a.Match)
	}
	sb.WriteString(d.Text)
	return sb.String()
}

// DiffStates compares expected against actual. It never panics; a failure
// inside a diff library is reported as an error.
func DiffStates(expected, actual types.AccountMap) (diff *StateDiff, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn(log.Harness, "state diff panicked", "err", r)
			diff, err = nil, fmt.Errorf("state diff: %v", r)
		}
	}()

	exp, act := viewsOf(expected), viewsOf(actual)
	addrs := make(map[string]struct{}, len(exp)+len(act))
	for a := range exp {
		addrs[a] = struct{}{}
	}
	for a := range act {
		addrs[a] = struct{}{}
	}
	keys := make([]string, 0, len(addrs))
	for a := range addrs {
		keys = append(keys, a)
	}
	sort.Strings(keys)

	diff = &StateDiff{}
	opts := jsondiff.DefaultJSONOptions()
	for _, a := range keys {
		left, err := json.Marshal(optionalView(exp, a))
		if err != nil {
			return nil, err
		}
		right, err := json.Marshal(optionalView(act, a))
		if err != nil {
			return nil, err
		}
		match, detail := jsondiff.Compare(left, right, &opts)
		if match == jsondiff.FullMatch {
			continue
		}
		diff.Accounts = append(diff.Accounts, AccountDiff{Address: common.HexToAddress(a), Match: match.String(), Detail: detail})
	}
	if diff.Empty() {
		return diff, nil
	}

	left, err := json.Marshal(exp)
	if err != nil {
		return nil, err
	}
	right, err := json.Marshal(act)
	if err != nil {
		return nil, err
	}
	delta, err := gojsondiff.New().Compare(left, right)
	if err != nil {
		return nil, fmt.Errorf("diffing JSON: %w", err)
	}
	if delta.Modified() {
		var leftObj interface{}
		if err := json.Unmarshal(left, &leftObj); err != nil {
			return nil, err
		}
		cfg := formatter.AsciiFormatterConfig{
			ShowArrayIndex: true,
			Coloring:       false,
		}
		text, err := formatter.NewAsciiFormatter(leftObj, cfg).Format(delta)
		if err != nil {
			return nil, fmt.Errorf("formatting diff: %w", err)
		}
		diff.Text = text
	}
	return diff, nil
}

// optionalView returns nil for a missing account so it marshals as null.
func optionalView(views map[string]accountView, addr string) *accountView {
	v, ok := views[addr]
	if !ok {
		return nil
	}
	return &v
}
