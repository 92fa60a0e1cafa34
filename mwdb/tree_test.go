package mwdb

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/justapithecus/stakeout/results"
	"github.com/justapithecus/stakeout/types"
)

func TestReportTreeLinksParents(t *testing.T) {
	ctx := context.Background()
	fake := NewFake()

	tree := results.NewTree()
	cfg := tree.PushConfig(map[string]any{"type": "demofam", "c2": []any{"tcp://1.2.3.4"}}, "dynamic")
	cfg.AddTag("dynamic:demofam").AddComment("fetched by tracking")
	cfg.PushBinary([]byte("MZ payload"), "second_stage.exe").AddTag("stage2")
	tree.PushBlob("1.2.3.4:443\n5.6.7.8:443", "peers", "peer_list")

	rows, err := ReportTree(ctx, fake, tree, "anchor-hash")
	if err != nil {
		t.Fatalf("ReportTree failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	// Depth-first: the config, then its binary child, then the blob.
	if rows[0].Type != types.ResultTypeConfig || rows[0].Name != "dynamic" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Type != types.ResultTypeBinary || rows[1].Name != "second_stage.exe" {
		t.Errorf("row 1 = %+v", rows[1])
	}
	if rows[2].Type != types.ResultTypeBlob || rows[2].Name != "peers_peer_list" {
		t.Errorf("row 2 = %+v", rows[2])
	}

	cfgObj, ok := fake.Object(rows[0].SHA256)
	if !ok {
		t.Fatalf("config object missing")
	}
	if cfgObj.Parent != "anchor-hash" || cfgObj.Family != "demofam" {
		t.Errorf("config object = %+v", cfgObj)
	}
	if len(cfgObj.Tags) != 1 || cfgObj.Tags[0] != "dynamic:demofam" {
		t.Errorf("config tags = %v", cfgObj.Tags)
	}
	if len(cfgObj.Comments) != 1 {
		t.Errorf("config comments = %v", cfgObj.Comments)
	}

	binObj, ok := fake.Object(rows[1].SHA256)
	if !ok {
		t.Fatalf("binary object missing")
	}
	if binObj.Parent != rows[0].SHA256 {
		t.Errorf("binary parent = %q, want the config hash", binObj.Parent)
	}

	blobObj, ok := fake.Object(rows[2].SHA256)
	if !ok {
		t.Fatalf("blob object missing")
	}
	if blobObj.Parent != "anchor-hash" || blobObj.BlobType != "peer_list" {
		t.Errorf("blob object = %+v", blobObj)
	}
}

func TestReportTreeEmpty(t *testing.T) {
	fake := NewFake()
	rows, err := ReportTree(context.Background(), fake, results.NewTree(), "anchor-hash")
	if err != nil {
		t.Fatalf("ReportTree failed: %v", err)
	}
	if len(rows) != 0 || fake.ObjectCount() != 0 {
		t.Errorf("empty tree produced %d rows, %d objects", len(rows), fake.ObjectCount())
	}
}

func TestReportTreeNeedsAnchor(t *testing.T) {
	tree := results.NewTree()
	tree.PushConfig(map[string]any{"type": "demofam"}, "dynamic")

	if _, err := ReportTree(context.Background(), NewFake(), tree, ""); err == nil {
		t.Fatal("ReportTree accepted a tree without an anchor object")
	}
}

func TestReportTreeDepthLimit(t *testing.T) {
	tree := results.NewTree()
	node := tree
	for i := 0; i < 12; i++ {
		node = node.PushConfig(map[string]any{"type": "demofam", "depth": fmt.Sprint(i)}, "dynamic")
	}

	rows, err := ReportTree(context.Background(), NewFake(), tree, "anchor-hash")
	if !errors.Is(err, ErrTreeTooDeep) {
		t.Fatalf("ReportTree = %v, want ErrTreeTooDeep", err)
	}
	// Nodes at depths 1 through 10 made it before the limit tripped.
	if len(rows) != 10 {
		t.Errorf("got %d rows before the depth error, want 10", len(rows))
	}
}

func TestReportTreePartialFailure(t *testing.T) {
	fake := NewFake()
	uploads := 0
	fake.UploadHook = func(kind types.ResultType, name string) error {
		uploads++
		if uploads == 2 {
			return errors.New("vault on fire")
		}
		return nil
	}

	tree := results.NewTree()
	tree.PushConfig(map[string]any{"type": "demofam", "n": "1"}, "dynamic")
	tree.PushConfig(map[string]any{"type": "demofam", "n": "2"}, "dynamic")
	tree.PushConfig(map[string]any{"type": "demofam", "n": "3"}, "dynamic")

	rows, err := ReportTree(context.Background(), fake, tree, "anchor-hash")
	if err == nil {
		t.Fatal("ReportTree swallowed the upload failure")
	}
	if len(rows) != 1 {
		t.Errorf("got %d partial rows, want 1", len(rows))
	}
}
