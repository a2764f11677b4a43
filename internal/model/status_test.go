package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"Queued", "Running", "Done", "Failed"} {
		st, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, st.String())
	}
	for _, s := range []string{"", "queued", "Paused", "DONE"} {
		_, err := ParseStatus(s)
		assert.Error(t, err, "expected %q to be rejected", s)
	}
}

func TestStatus_ScanValidates(t *testing.T) {
	var st Status
	require.NoError(t, st.Scan([]byte("Running")))
	assert.Equal(t, StatusRunning, st)

	assert.Error(t, st.Scan("Paused"))
	assert.Error(t, st.Scan(nil))
	assert.Error(t, st.Scan(42))
	assert.Equal(t, StatusRunning, st, "failed scan must not overwrite")
}

func TestStatus_ValueRejectsUnknown(t *testing.T) {
	v, err := StatusDone.Value()
	require.NoError(t, err)
	assert.Equal(t, "Done", v)

	_, err = Status("Paused").Value()
	assert.Error(t, err)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
