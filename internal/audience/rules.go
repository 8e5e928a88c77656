// Package audience resolves a campaign's audience selector into an
// authoritative recipient count and a query the execution side can page
// through.
package audience

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Condition is one merged predicate object: field -> scalar (equality) or
// field -> operator map ({"$gt": 30}).
type Condition map[string]any

// ParseRuleTree parses a segment's serialized boolean rule tree into
// OR-of-conditions form. Every $and subtree is flattened into a single
// merged condition; a top-level $or yields one condition per branch.
func ParseRuleTree(raw json.RawMessage) ([]Condition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty rule tree")
	}
	var node map[string]any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse rule tree: %w", err)
	}
	return flattenNode(node)
}

func flattenNode(node map[string]any) ([]Condition, error) {
	if or, ok := node["$or"]; ok {
		branches, ok := or.([]any)
		if !ok {
			return nil, fmt.Errorf("$or must hold an array")
		}
		var out []Condition
		for _, branch := range branches {
			child, ok := branch.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("$or branch must be an object")
			}
			conds, err := flattenNode(child)
			if err != nil {
				return nil, err
			}
			out = append(out, conds...)
		}
		return out, nil
	}

	cond, err := mergeAnd(node)
	if err != nil {
		return nil, err
	}
	return []Condition{cond}, nil
}

// mergeAnd recursively collects the leaf predicates of an $and subtree and
// shallow-merges them into one condition. Duplicate keys overwrite in
// traversal order (last write wins); $and children merge before the node's
// own leaf keys, so explicit siblings override nested conjunctions.
func mergeAnd(node map[string]any) (Condition, error) {
	out := Condition{}

	if and, ok := node["$and"]; ok {
		children, ok := and.([]any)
		if !ok {
			return nil, fmt.Errorf("$and must hold an array")
		}
		for _, child := range children {
			childNode, ok := child.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("$and element must be an object")
			}
			merged, err := mergeAnd(childNode)
			if err != nil {
				return nil, err
			}
			for k, v := range merged {
				out[k] = v
			}
		}
	}

	for k, v := range node {
		if k == "$and" {
			continue
		}
		if k == "$or" {
			return nil, fmt.Errorf("$or is only supported at the top level")
		}
		out[k] = v
	}
	return out, nil
}

var sqlOperators = map[string]string{
	"$gt":  ">",
	"$gte": ">=",
	"$lt":  "<",
	"$lte": "<=",
	"$ne":  "<>",
	"$eq":  "=",
}

// CompileConditions renders OR'd conditions into a SQL fragment over the
// customers.attributes JSONB column. Placeholders start at startArg so the
// fragment composes with the caller's own arguments.
func CompileConditions(conds []Condition, startArg int) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, fmt.Errorf("no conditions to compile")
	}

	var args []any
	argIdx := startArg
	nextArg := func(v any) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", argIdx)
		argIdx++
		return p
	}

	var orParts []string
	for _, cond := range conds {
		part, err := compileCondition(cond, nextArg)
		if err != nil {
			return "", nil, err
		}
		orParts = append(orParts, part)
	}
	if len(orParts) == 1 {
		return orParts[0], args, nil
	}
	return "(" + strings.Join(orParts, " OR ") + ")", args, nil
}

func compileCondition(cond Condition, nextArg func(any) string) (string, error) {
	// Deterministic field order for stable SQL and testability.
	fields := make([]string, 0, len(cond))
	for f := range cond {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var andParts []string
	for _, field := range fields {
		value := cond[field]
		ops, isOpMap := value.(map[string]any)
		if !isOpMap {
			andParts = append(andParts, fmt.Sprintf("attributes->>'%s' = %s", field, nextArg(fmt.Sprint(value))))
			continue
		}

		opNames := make([]string, 0, len(ops))
		for op := range ops {
			opNames = append(opNames, op)
		}
		sort.Strings(opNames)

		for _, op := range opNames {
			operand := ops[op]
			switch op {
			case "$in":
				list, ok := operand.([]any)
				if !ok {
					return "", fmt.Errorf("field %s: $in must hold an array", field)
				}
				strs := make([]string, len(list))
				for i, v := range list {
					strs[i] = fmt.Sprint(v)
				}
				andParts = append(andParts, fmt.Sprintf("attributes->>'%s' = ANY(%s)", field, nextArg(strs)))
			case "$exists":
				want, _ := operand.(bool)
				if want {
					andParts = append(andParts, fmt.Sprintf("attributes ? '%s'", field))
				} else {
					andParts = append(andParts, fmt.Sprintf("NOT (attributes ? '%s')", field))
				}
			default:
				sqlOp, ok := sqlOperators[op]
				if !ok {
					return "", fmt.Errorf("field %s: unsupported operator %q", field, op)
				}
				if _, isNum := operand.(float64); isNum {
					andParts = append(andParts, fmt.Sprintf("(attributes->>'%s')::numeric %s %s", field, sqlOp, nextArg(operand)))
				} else {
					andParts = append(andParts, fmt.Sprintf("attributes->>'%s' %s %s", field, sqlOp, nextArg(fmt.Sprint(operand))))
				}
			}
		}
	}
	if len(andParts) == 1 {
		return andParts[0], nil
	}
	return "(" + strings.Join(andParts, " AND ") + ")", nil
}
