package mq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteProjectDrawingsJob_EncodeDecode(t *testing.T) {
	job := DeleteProjectDrawingsJob{ProjectId: "p-1", RequestedBy: "u-1", RequestedAt: 1700000000}

	body, err := job.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"projectId":"p-1","requestedBy":"u-1","requestedAt":1700000000}`, body)

	decoded, err := DecodeDeleteProjectDrawingsJob(body)
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestDecodeDeleteProjectDrawingsJob_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      "delete everything",
		"no project id": `{"requestedBy":"u-1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeDeleteProjectDrawingsJob(body)
			assert.Error(t, err)
		})
	}
}
