package saltapi

import (
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   string
	}{
		{"/etc/hosts", "/", "/etc/hosts"},
		{"etc/hosts", "/", "/etc/hosts"},
		{"", "/", "/"},
		{"/", "/", "/"},
		{"//srv///app/", "/", "/srv/app"},
		{"./a/./b", "/", "/a/b"},
		{"../../etc/passwd", "/", "/etc/passwd"},
		{"/a/b/../../../c", "/", "/c"},
		{"a/../..", "/srv", "/srv"},
		{"conf/app.yaml", "/srv/root", "/srv/root/conf/app.yaml"},
		{"/conf/app.yaml", "/srv/root", "/srv/root/conf/app.yaml"},
		{"with space/f'ile", "/", "/with space/f'ile"},
	}

	for _, tt := range tests {
		t.Run(tt.path+"@"+tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePath(tt.path, tt.prefix))
		})
	}
}

func TestNormalizePathLeadingSlashIsNoop(t *testing.T) {
	prop := func(p string) bool {
		if strings.HasPrefix(p, "/") {
			return true
		}
		return NormalizePath(p, "/") == NormalizePath("/"+p, "/")
	}
	assert.NoError(t, quick.Check(prop, nil))
}

func TestNormalizePathStaysUnderPrefix(t *testing.T) {
	prefixes := []string{"/", "/srv", "/var/lib/app", "/tmp/x.y"}
	samples := []string{"..", "../..", "a/../../b", "/../../../etc", "x/./y/..", "...", "..a/b.."}

	check := func(p, prefix string) {
		got := NormalizePath(p, prefix)
		assert.True(t, strings.HasPrefix(got, prefix), "%q under %q gave %q", p, prefix, got)
		for _, seg := range strings.Split(got, "/") {
			assert.NotEqual(t, "..", seg, "%q under %q gave %q", p, prefix, got)
		}
	}

	for _, prefix := range prefixes {
		for _, p := range samples {
			check(p, prefix)
		}
		prefix := prefix
		prop := func(p string) bool {
			check(p, prefix)
			return true
		}
		assert.NoError(t, quick.Check(prop, nil))
	}
}
