package mwdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/stakeout/results"
	"github.com/justapithecus/stakeout/types"
)

// maxReportDepth bounds the tree walk; anything deeper means a cycle
// in the result object.
const maxReportDepth = 10

// ErrTreeTooDeep is returned when a result tree exceeds the reporting
// depth limit.
var ErrTreeTooDeep = errors.New("maximum reporting depth reached, is there a cycle in the result tree?")

// ReportTree mirrors a result tree into the repository, hanging each
// node under the hash of its parent. The root container itself is not
// uploaded; its children attach to parent, normally the static config
// hash. On error, rows for everything uploaded before it come back
// alongside the error so the caller can still record them.
func ReportTree(ctx context.Context, c Client, root *results.Node, parent string) ([]types.Result, error) {
	return reportNode(ctx, c, root, parent, 0)
}

func reportNode(ctx context.Context, c Client, node *results.Node, parent string, depth int) ([]types.Result, error) {
	if depth > maxReportDepth {
		return nil, ErrTreeTooDeep
	}

	var rows []types.Result
	var thisHash string

	switch node.Kind {
	case results.KindObject:
		thisHash = parent
	case results.KindConfig:
		family, _ := node.Config["type"].(string)
		hash, err := c.UploadConfig(ctx, ConfigUpload{
			Family:     family,
			Config:     node.Config,
			ConfigType: node.ConfigType,
			Attributes: node.Attributes,
			Parent:     parent,
		})
		if err != nil {
			return rows, err
		}
		rows = append(rows, types.Result{
			Type:   types.ResultTypeConfig,
			Name:   node.ConfigType,
			SHA256: hash,
			Tags:   node.Tags,
		})
		thisHash = hash
	case results.KindBinary:
		hash, err := c.UploadFile(ctx, FileUpload{
			Name:       node.Name,
			Content:    node.Data,
			Attributes: node.Attributes,
			Parent:     parent,
		})
		if err != nil {
			return rows, err
		}
		rows = append(rows, types.Result{
			Type:   types.ResultTypeBinary,
			Name:   node.Name,
			SHA256: hash,
			Tags:   node.Tags,
		})
		thisHash = hash
	case results.KindBlob:
		hash, err := c.UploadBlob(ctx, BlobUpload{
			Name:       node.Name,
			Type:       node.BlobType,
			Content:    node.Content,
			Attributes: node.Attributes,
			Parent:     parent,
		})
		if err != nil {
			return rows, err
		}
		rows = append(rows, types.Result{
			Type:   types.ResultTypeBlob,
			Name:   node.Name + "_" + node.BlobType,
			SHA256: hash,
			Tags:   node.Tags,
		})
		thisHash = hash
	default:
		return rows, fmt.Errorf("unknown result object kind %q", node.Kind)
	}

	// The root rides on its parent hash; an empty one means the tree
	// was submitted without an anchor object.
	if thisHash == "" {
		return rows, errors.New("result node resolved to no repository object")
	}

	if node.Kind != results.KindObject {
		for _, tag := range node.Tags {
			if err := c.AddTag(ctx, thisHash, tag); err != nil {
				return rows, err
			}
		}
		for _, comment := range node.Comments {
			if err := c.AddComment(ctx, thisHash, comment); err != nil {
				return rows, err
			}
		}
	}

	for _, child := range node.Children {
		childRows, err := reportNode(ctx, c, child, thisHash, depth+1)
		rows = append(rows, childRows...)
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}
