package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReportsBuildInfo(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.MainModule)
}
