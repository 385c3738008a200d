package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogFilename(t *testing.T) {
	assert.Equal(t, "deepdriveio_deepdrive_bot_foo_job-123.txt", LogFilename("deepdriveio/deepdrive:bot_foo", "123"))
}

func TestSanitizeImageName(t *testing.T) {
	assert.Equal(t, "a_b_c_d", sanitizeImageName("a/b:c@d"))
}
