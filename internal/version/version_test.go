package version_test

import (
	"strings"
	"testing"

	v "github.com/keithlinneman/pdfsplit-web/internal/version"
)

func TestVCSDirtyTriState(t *testing.T) {
	prev := v.VCSDirty
	t.Cleanup(func() { v.VCSDirty = prev })

	trueVal := true
	v.VCSDirty = &trueVal
	if info := v.Get(); info.VCSDirty == nil || !*info.VCSDirty || info.Dirty() != "true" {
		t.Fatalf("VCSDirty = %v, want true", info.VCSDirty)
	}

	falseVal := false
	v.VCSDirty = &falseVal
	if info := v.Get(); info.VCSDirty == nil || *info.VCSDirty || info.Dirty() != "false" {
		t.Fatalf("VCSDirty = %v, want false", info.VCSDirty)
	}
}

func TestDirty_Unknown(t *testing.T) {
	if got := (v.Info{}).Dirty(); got != "unknown" {
		t.Fatalf("Dirty() = %q, want unknown", got)
	}
}

func TestString_IncludesFields(t *testing.T) {
	prevVersion, prevBuild := v.Version, v.BuildId
	t.Cleanup(func() { v.Version, v.BuildId = prevVersion, prevBuild })
	v.Version = "1.2.3"
	v.BuildId = "b-42"

	s := v.Get().String()
	for _, want := range []string{"sitepack 1.2.3", "build_id=b-42"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}
