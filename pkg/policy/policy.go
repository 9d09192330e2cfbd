// Package policy reads, edits and re-serializes S3 bucket policies and grants
// public read access to prefixes of a bucket.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

const (
	DefaultVersion = "2012-10-17"

	prefixConditionKey = "s3:prefix"

	// wildcardOperator is where new prefixes go when the statement uses it.
	wildcardOperator = "StringLike"
)

// Statement is one entry of a bucket policy. Only the fields below are
// interpreted; every other field is kept as raw JSON and emitted unchanged.
type Statement struct {
	Sid     string
	Effect  string
	Actions []string
	// Resources have the S3 ARN prefix of any partition stripped, e.g.
	// "bucket/data/*".
	Resources []string
	// ConditionPrefixes are the s3:prefix values of any condition operator.
	ConditionPrefixes []string

	raw               map[string]json.RawMessage
	resourceARNs      []string
	prefixOperator    string
	addedPrefixes     []string
	resourcesModified bool
}

// UnmarshalJSON accepts both the string and array forms of Action and
// Resource, as AWS does.
func (s *Statement) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Statement{raw: raw}

	if v, ok := raw["Sid"]; ok {
		if err := json.Unmarshal(v, &s.Sid); err != nil {
			return fmt.Errorf("parse Sid: %w", err)
		}
	}
	if v, ok := raw["Effect"]; ok {
		if err := json.Unmarshal(v, &s.Effect); err != nil {
			return fmt.Errorf("parse Effect: %w", err)
		}
	}
	if v, ok := raw["Action"]; ok {
		actions, err := parseStringOrArray(v)
		if err != nil {
			return fmt.Errorf("parse Action: %w", err)
		}
		s.Actions = actions
	}
	if v, ok := raw["Resource"]; ok {
		arns, err := parseStringOrArray(v)
		if err != nil {
			return fmt.Errorf("parse Resource: %w", err)
		}
		s.resourceARNs = arns
		for _, arn := range arns {
			s.Resources = append(s.Resources, StripARN(arn))
		}
	}
	if v, ok := raw["Condition"]; ok {
		if err := s.parseCondition(v); err != nil {
			return fmt.Errorf("parse Condition: %w", err)
		}
	}

	return nil
}

func (s *Statement) parseCondition(data json.RawMessage) error {
	var condition map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &condition); err != nil {
		return err
	}

	operators := make([]string, 0, len(condition))
	for op := range condition {
		operators = append(operators, op)
	}
	sort.Strings(operators)

	for _, op := range operators {
		v, ok := condition[op][prefixConditionKey]
		if !ok {
			continue
		}
		prefixes, err := parseStringOrArray(v)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, prefixConditionKey, err)
		}
		if s.prefixOperator == "" || op == wildcardOperator {
			s.prefixOperator = op
		}
		s.ConditionPrefixes = append(s.ConditionPrefixes, prefixes...)
	}

	return nil
}

// MarshalJSON re-emits the statement as it was parsed, replacing only the
// Resource list and s3:prefix condition when they were modified.
func (s *Statement) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.raw)+5)
	for k, v := range s.raw {
		out[k] = v
	}

	if s.raw == nil {
		if err := s.marshalFields(out); err != nil {
			return nil, err
		}
	}

	if s.resourcesModified {
		v, err := json.Marshal(s.resourceARNs)
		if err != nil {
			return nil, err
		}
		out["Resource"] = v
	}

	if len(s.addedPrefixes) > 0 {
		v, err := s.marshalCondition()
		if err != nil {
			return nil, err
		}
		out["Condition"] = v
	}

	return json.Marshal(out)
}

func (s *Statement) marshalFields(out map[string]json.RawMessage) error {
	fields := map[string]any{
		"Effect":   s.Effect,
		"Action":   s.Actions,
		"Resource": s.resourceARNs,
	}
	if s.Sid != "" {
		fields["Sid"] = s.Sid
	}
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[k] = data
	}
	return nil
}

// marshalCondition appends the added prefixes to the s3:prefix list of
// prefixOperator. Every other operator and value is emitted as parsed.
func (s *Statement) marshalCondition() (json.RawMessage, error) {
	var condition map[string]map[string]json.RawMessage
	if err := json.Unmarshal(s.raw["Condition"], &condition); err != nil {
		return nil, err
	}

	existing, err := parseStringOrArray(condition[s.prefixOperator][prefixConditionKey])
	if err != nil {
		return nil, err
	}
	prefixes, err := json.Marshal(append(existing, s.addedPrefixes...))
	if err != nil {
		return nil, err
	}
	condition[s.prefixOperator][prefixConditionKey] = prefixes

	return json.Marshal(condition)
}

// HasPrefixCondition reports whether the statement restricts listing with an
// s3:prefix condition.
func (s *Statement) HasPrefixCondition() bool {
	return s.prefixOperator != ""
}

// AddResource appends arn unless an equal resource is already present. It
// reports whether the statement changed.
func (s *Statement) AddResource(arn string) bool {
	stripped := StripARN(arn)
	if slices.Contains(s.Resources, stripped) {
		return false
	}
	s.Resources = append(s.Resources, stripped)
	s.resourceARNs = append(s.resourceARNs, arn)
	s.resourcesModified = true
	return true
}

// AddConditionPrefix appends prefix to the s3:prefix condition. A statement
// without such a condition already allows every prefix and is left alone.
func (s *Statement) AddConditionPrefix(prefix string) bool {
	if !s.HasPrefixCondition() || slices.Contains(s.ConditionPrefixes, prefix) {
		return false
	}
	s.ConditionPrefixes = append(s.ConditionPrefixes, prefix)
	s.addedPrefixes = append(s.addedPrefixes, prefix)
	return true
}

// Partition returns the ARN partition of the statement's first S3 resource,
// or "aws" when it has none.
func (s *Statement) Partition() string {
	for _, arn := range s.resourceARNs {
		if partition, _, ok := splitARN(arn); ok {
			return partition
		}
	}
	return "aws"
}

// StripARN turns arn:<partition>:s3:::bucket/key into bucket/key. Other
// values are returned unchanged.
func StripARN(arn string) string {
	if _, resource, ok := splitARN(arn); ok {
		return resource
	}
	return arn
}

// ResourceARN builds the S3 ARN of resource in partition.
func ResourceARN(partition, resource string) string {
	return "arn:" + partition + ":s3:::" + resource
}

func splitARN(arn string) (partition, resource string, ok bool) {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" || parts[1] == "" || parts[2] != "s3" {
		return "", "", false
	}
	return parts[1], parts[5], true
}

// Document is a parsed bucket policy.
type Document struct {
	Version    string
	Statements []*Statement

	raw             map[string]json.RawMessage
	singleStatement bool
}

// Parse reads a policy document. Empty input yields an empty document.
func Parse(data []byte) (*Document, error) {
	doc := &Document{Version: DefaultVersion}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return doc, nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Document{raw: raw}

	if v, ok := raw["Version"]; ok {
		if err := json.Unmarshal(v, &d.Version); err != nil {
			return fmt.Errorf("parse Version: %w", err)
		}
	}

	v, ok := raw["Statement"]
	if !ok {
		return nil
	}
	if trimmed := bytes.TrimSpace(v); len(trimmed) > 0 && trimmed[0] == '{' {
		var st Statement
		if err := json.Unmarshal(v, &st); err != nil {
			return err
		}
		d.Statements = []*Statement{&st}
		d.singleStatement = true
		return nil
	}
	return json.Unmarshal(v, &d.Statements)
}

func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.raw)+2)
	for k, v := range d.raw {
		out[k] = v
	}

	version, err := json.Marshal(d.Version)
	if err != nil {
		return nil, err
	}
	out["Version"] = version

	var statements []byte
	if d.singleStatement && len(d.Statements) == 1 {
		statements, err = json.Marshal(d.Statements[0])
	} else {
		list := d.Statements
		if list == nil {
			list = []*Statement{}
		}
		statements, err = json.Marshal(list)
	}
	if err != nil {
		return nil, err
	}
	out["Statement"] = statements

	return json.Marshal(out)
}

// Pretty renders the document with two-space indentation.
func (d *Document) Pretty() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Statement returns the first statement with the given Sid, or nil.
func (d *Document) Statement(sid string) *Statement {
	for _, st := range d.Statements {
		if st.Sid == sid {
			return st
		}
	}
	return nil
}

func parseStringOrArray(data json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("expected string or array of strings, got %s", data)
	}
	return list, nil
}
