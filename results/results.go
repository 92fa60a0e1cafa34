// Package results models the artifact tree a module run produces.
//
// A tree hangs off a generic root node. Modules push configs, binaries
// and blobs onto nodes, nesting children under the object that produced
// them so the reporter can mirror the parent relation in the malware
// repository. Trees cross the queue in transport form, a plain
// map[string]any that both msgpack and JSON can carry.
package results

import (
	"encoding/base64"
	"fmt"
)

// Kind discriminates node payloads in transport form.
type Kind string

const (
	// KindObject is the generic container node, including the root.
	KindObject Kind = "object"
	// KindConfig carries a structured config.
	KindConfig Kind = "config"
	// KindBinary carries a raw binary payload.
	KindBinary Kind = "binary"
	// KindBlob carries a text payload.
	KindBlob Kind = "blob"
)

// Node is a single object in a result tree.
type Node struct {
	Kind Kind

	// Config and ConfigType are set for config nodes. ConfigType is
	// usually static or dynamic.
	Config     map[string]any
	ConfigType string

	// Data is set for binary nodes.
	Data []byte

	// Content and BlobType are set for blob nodes.
	Content  string
	BlobType string

	// Name labels binary and blob nodes.
	Name string

	Tags       []string
	Attributes map[string]any
	Comments   []string

	Children []*Node
}

// NewTree returns an empty result tree root.
func NewTree() *Node {
	return &Node{Kind: KindObject}
}

// Empty reports whether the node has no children. A run whose tree is
// empty produced no results.
func (n *Node) Empty() bool {
	return len(n.Children) == 0
}

// PushConfig appends a config child and returns it.
func (n *Node) PushConfig(config map[string]any, configType string) *Node {
	child := &Node{
		Kind:       KindConfig,
		Config:     config,
		ConfigType: configType,
	}
	n.Children = append(n.Children, child)
	return child
}

// PushBinary appends a binary child and returns it.
func (n *Node) PushBinary(data []byte, name string) *Node {
	child := &Node{
		Kind: KindBinary,
		Data: data,
		Name: name,
	}
	n.Children = append(n.Children, child)
	return child
}

// PushBlob appends a blob child and returns it.
func (n *Node) PushBlob(content, name, blobType string) *Node {
	child := &Node{
		Kind:     KindBlob,
		Content:  content,
		Name:     name,
		BlobType: blobType,
	}
	n.Children = append(n.Children, child)
	return child
}

// AddTag records a repository tag. Returns the node for chaining.
func (n *Node) AddTag(tag string) *Node {
	n.Tags = append(n.Tags, tag)
	return n
}

// AddComment records a repository comment. Returns the node for chaining.
func (n *Node) AddComment(comment string) *Node {
	n.Comments = append(n.Comments, comment)
	return n
}

// SetAttribute records a repository attribute. Returns the node for chaining.
func (n *Node) SetAttribute(key string, value any) *Node {
	if n.Attributes == nil {
		n.Attributes = map[string]any{}
	}
	n.Attributes[key] = value
	return n
}

// Flattened groups the nodes of a tree by kind, root excluded.
type Flattened struct {
	Configs  []*Node
	Blobs    []*Node
	Binaries []*Node
}

// Flatten walks the tree depth first and buckets every node by kind.
// The root container itself is not included.
func (n *Node) Flatten() Flattened {
	var out Flattened
	stack := make([]*Node, len(n.Children))
	copy(stack, n.Children)

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch top.Kind {
		case KindConfig:
			out.Configs = append(out.Configs, top)
		case KindBlob:
			out.Blobs = append(out.Blobs, top)
		case KindBinary:
			out.Binaries = append(out.Binaries, top)
		}

		stack = append(stack, top.Children...)
	}
	return out
}

// Transport serialises the tree to the wire shape carried between the
// track and report queues. Binary payloads travel base64 encoded.
func (n *Node) Transport() map[string]any {
	out := map[string]any{"object": string(n.Kind)}
	switch n.Kind {
	case KindConfig:
		out["config"] = n.Config
		out["config_type"] = n.ConfigType
	case KindBinary:
		out["data"] = base64.StdEncoding.EncodeToString(n.Data)
		out["name"] = n.Name
	case KindBlob:
		out["content"] = n.Content
		out["blob_type"] = n.BlobType
		out["name"] = n.Name
	}
	if n.Kind != KindObject {
		out["tags"] = append([]string{}, n.Tags...)
		out["attributes"] = n.attributesOrEmpty()
		out["comments"] = append([]string{}, n.Comments...)
	}

	children := make([]any, len(n.Children))
	for i, child := range n.Children {
		children[i] = child.Transport()
	}
	out["children"] = children
	return out
}

func (n *Node) attributesOrEmpty() map[string]any {
	if n.Attributes == nil {
		return map[string]any{}
	}
	return n.Attributes
}

// ParseTransport rebuilds a tree from its transport form. It accepts
// the loosely typed maps produced by msgpack and JSON decoding.
func ParseTransport(raw map[string]any) (*Node, error) {
	kind, _ := raw["object"].(string)
	node := &Node{Kind: Kind(kind)}

	switch node.Kind {
	case KindObject:
	case KindConfig:
		cfg, err := toStringMap(raw["config"])
		if err != nil {
			return nil, fmt.Errorf("config node: %w", err)
		}
		node.Config = cfg
		node.ConfigType, _ = raw["config_type"].(string)
	case KindBinary:
		encoded, _ := raw["data"].(string)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("binary node %q: %w", raw["name"], err)
		}
		node.Data = data
		node.Name, _ = raw["name"].(string)
	case KindBlob:
		node.Content, _ = raw["content"].(string)
		node.BlobType, _ = raw["blob_type"].(string)
		node.Name, _ = raw["name"].(string)
	default:
		return nil, fmt.Errorf("unknown result object kind %q", kind)
	}

	if node.Kind != KindObject {
		node.Tags = toStringSlice(raw["tags"])
		node.Comments = toStringSlice(raw["comments"])
		if attrs, err := toStringMap(raw["attributes"]); err == nil && len(attrs) > 0 {
			node.Attributes = attrs
		}
	}

	children, err := toSlice(raw["children"])
	if err != nil {
		return nil, fmt.Errorf("%s node children: %w", kind, err)
	}
	for i, rawChild := range children {
		childMap, err := toStringMap(rawChild)
		if err != nil {
			return nil, fmt.Errorf("%s node child %d: %w", kind, i, err)
		}
		child, err := ParseTransport(childMap)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func toSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return s, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", v)
	}
}

func toStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string{}, s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func toStringMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return m, nil
	case map[any]any:
		// msgpack decodes maps with interface keys in some paths.
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string map key %v", k)
			}
			out[key] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected map, got %T", v)
	}
}
