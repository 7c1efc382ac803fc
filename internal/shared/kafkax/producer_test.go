package kafkax

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldReset(t *testing.T) {
	assert.True(t, shouldReset(errors.New("dial tcp 10.0.0.1:9092: connection refused")))
	assert.True(t, shouldReset(errors.New("[6] Not Leader For Partition: not leader")))
	assert.False(t, shouldReset(errors.New("[10] Message Size Too Large")))
	assert.False(t, shouldReset(nil))
}
