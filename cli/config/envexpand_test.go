package config

import (
	"slices"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("LF_DATASET", "GLBX.MDP3")
	t.Setenv("LF_EMPTY", "")
	t.Setenv("LF_REDIS_HOST", "cache.internal")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "dataset: ${LF_DATASET}", "dataset: GLBX.MDP3"},
		{"unset", "dataset: ${LF_UNSET_9321}", "dataset: "},
		{"default when unset", "dataset: ${LF_UNSET_9321:-XNAS.ITCH}", "dataset: XNAS.ITCH"},
		{"default ignored when set", "dataset: ${LF_DATASET:-XNAS.ITCH}", "dataset: GLBX.MDP3"},
		{"default when empty", "dataset: ${LF_EMPTY:-XNAS.ITCH}", "dataset: XNAS.ITCH"},
		{"adjacent", "${LF_REDIS_HOST}:${LF_DATASET}", "cache.internal:GLBX.MDP3"},
		{"bare dollar untouched", "price: $5 and $LF_DATASET", "price: $5 and $LF_DATASET"},
		{"no references", "gateway: {}", "gateway: {}"},
		{
			"yaml document",
			"dataset: ${LF_DATASET}\npublish:\n  type: redis\n  url: redis://${LF_REDIS_HOST}:6379/0\n",
			"dataset: GLBX.MDP3\npublish:\n  type: redis\n  url: redis://cache.internal:6379/0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpand_ReportsMissingOnce(t *testing.T) {
	t.Setenv("LF_DATASET", "x")

	out, missing := expand("${LF_MISS_A} ${LF_DATASET} ${LF_MISS_B:-d} ${LF_MISS_A} ${LF_MISS_C}")
	if out != " x d  " {
		t.Errorf("out = %q", out)
	}
	if want := []string{"LF_MISS_A", "LF_MISS_C"}; !slices.Equal(missing, want) {
		t.Errorf("missing = %v, want %v", missing, want)
	}
}
