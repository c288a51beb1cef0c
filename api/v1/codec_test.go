package v1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuskdata/tusk/pkg/types"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	require.NotNil(t, codec)
	assert.Equal(t, CodecName, codec.Name())
}

func TestCodecPreservesJobTimes(t *testing.T) {
	codec := jsonCodec{}
	submitted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &GetJobResponse{Job: &types.Job{
		ID:          "job-1",
		Query:       types.QuerySpec{Text: "select 1", Params: map[string]string{"a": "b"}},
		Status:      types.JobStatusPending,
		SubmittedAt: submitted,
	}}

	data, err := codec.Marshal(in)
	require.NoError(t, err)

	out := new(GetJobResponse)
	require.NoError(t, codec.Unmarshal(data, out))
	assert.Equal(t, "job-1", out.Job.ID)
	assert.True(t, submitted.Equal(out.Job.SubmittedAt))
	assert.True(t, out.Job.StartedAt.IsZero())
	assert.Equal(t, "b", out.Job.Query.Params["a"])
}
