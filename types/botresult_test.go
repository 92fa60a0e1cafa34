package types //nolint:revive // types is a valid package name

import "testing"

func TestBotResult_Has(t *testing.T) {
	r := ResultWorking | ResultContinue

	if !r.Has(ResultWorking) {
		t.Error("expected working flag")
	}
	if !r.Has(ResultContinue) {
		t.Error("expected continue flag")
	}
	if r.Has(ResultArchive) {
		t.Error("did not expect archive flag")
	}
	if r.Has(ResultWorking | ResultArchive) {
		t.Error("Has must require every flag in the mask")
	}
}

func TestBotResult_String(t *testing.T) {
	tests := []struct {
		result BotResult
		want   string
	}{
		{0, "none"},
		{ResultWorking, "working"},
		{ResultContinue, "continue"},
		{ResultWorking | ResultArchive, "working|archive"},
		{ResultWorking | ResultContinue | ResultArchive, "working|continue|archive"},
	}
	for _, tt := range tests {
		if got := tt.result.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.result, got, tt.want)
		}
	}
}
