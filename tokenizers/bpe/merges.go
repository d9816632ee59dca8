package bpe

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/gomlx/gpt2bpe/internal/files"
	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"k8s.io/klog/v2"
)

// MergeRule states that adjacent symbols Left and Right may be replaced by Left+Right.
type MergeRule struct {
	Left, Right string
}

// String returns the rule in the merges.txt format: "left right".
func (r MergeRule) String() string {
	return r.Left + " " + r.Right
}

// MergeTable is the ordered list of merge rules. The rank of a rule is its position in the list:
// lower ranks are applied first.
//
// It is immutable after creation and safe for concurrent use.
type MergeTable struct {
	rules []MergeRule
	ranks map[MergeRule]int
}

// NewMergeTableFromRules creates a MergeTable from rules, in priority order.
// If a rule appears more than once, its first position is its rank.
func NewMergeTableFromRules(rules []MergeRule) (*MergeTable, error) {
	m := &MergeTable{
		rules: make([]MergeRule, 0, len(rules)),
		ranks: make(map[MergeRule]int, len(rules)),
	}
	for i, rule := range rules {
		if rule.Left == "" || rule.Right == "" {
			return nil, api.Errorf(api.ErrConfig, "merge rule #%d %q has an empty side", i, rule.String())
		}
		m.rules = append(m.rules, rule)
		if _, found := m.ranks[rule]; !found {
			m.ranks[rule] = i
		}
	}
	return m, nil
}

// NewMergeTable creates a MergeTable from rules in the "left right" format, in priority order.
// Each rule must have exactly two whitespace-separated fields.
func NewMergeTable(rules []string) (*MergeTable, error) {
	pairs := make([]MergeRule, 0, len(rules))
	for i, line := range rules {
		rule, ok := parseMergeRule(line)
		if !ok {
			return nil, api.Errorf(api.ErrConfig, "merge rule #%d %q must have exactly two whitespace-separated fields", i, line)
		}
		pairs = append(pairs, rule)
	}
	return NewMergeTableFromRules(pairs)
}

func parseMergeRule(line string) (MergeRule, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return MergeRule{}, false
	}
	return MergeRule{Left: fields[0], Right: fields[1]}, true
}

// ParseMergeRule parses a rule in the "left right" format.
func ParseMergeRule(s string) (MergeRule, error) {
	rule, ok := parseMergeRule(s)
	if !ok {
		return MergeRule{}, api.Errorf(api.ErrConfig, "merge rule %q must have exactly two whitespace-separated fields", s)
	}
	return rule, nil
}

// ParseMergeTable reads a merges file: UTF-8 text with one "left right" rule per line.
//
// The first non-empty line is a header, and skipped, when it starts with "#" (GPT-2's merges.txt starts with
// "#version: 0.2") or when it doesn't have exactly two fields. Empty lines are ignored everywhere.
// Any other line without exactly two fields is an error (api.ErrConfig) reporting its line number.
func ParseMergeTable(r io.Reader) (*MergeTable, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var rules []MergeRule
	lineNum := 0
	headerChecked := false
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		rule, ok := parseMergeRule(line)
		isFirst := !headerChecked
		headerChecked = true
		if isFirst && (!ok || strings.HasPrefix(line, "#")) {
			klog.V(2).Infof("skipping merges header %q", line)
			continue
		}
		if !ok {
			return nil, api.Errorf(api.ErrConfig, "merges line %d %q must have exactly two whitespace-separated fields", lineNum, line)
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, api.Wrapf(api.ErrConfig, err, "failed to read merges at line %d", lineNum+1)
	}
	return NewMergeTableFromRules(rules)
}

// LoadMergeTable reads a merges file (usually named merges.txt). See ParseMergeTable for the format.
func LoadMergeTable(filePath string) (*MergeTable, error) {
	content, err := files.ReadFile(filePath)
	if err != nil {
		return nil, api.Wrapf(api.ErrConfig, err, "failed to read merges file %q", filePath)
	}
	m, err := ParseMergeTable(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("loaded %d merge rules from %q", m.Len(), filePath)
	return m, nil
}

// RankOf returns the rank of the pair (left, right), and false if the pair never merges.
func (m *MergeTable) RankOf(left, right string) (int, bool) {
	rank, ok := m.ranks[MergeRule{Left: left, Right: right}]
	return rank, ok
}

// Len returns the number of rules.
func (m *MergeTable) Len() int {
	return len(m.rules)
}

// Rules returns a copy of the rules in priority order.
func (m *MergeTable) Rules() []MergeRule {
	rules := make([]MergeRule, len(m.rules))
	copy(rules, m.rules)
	return rules
}
