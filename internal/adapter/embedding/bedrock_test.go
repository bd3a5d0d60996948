//go:build bedrock

package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memlog/internal/domain"
)

type mockBedrockClient struct {
	calls []titanRequest
	model string
	err   error
}

func (m *mockBedrockClient) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	var req titanRequest
	if err := json.Unmarshal(params.Body, &req); err != nil {
		return nil, err
	}
	m.calls = append(m.calls, req)
	m.model = *params.ModelId
	body, _ := json.Marshal(titanResponse{Embedding: []float64{float64(len(req.InputText)), 1}})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func TestBedrockEmbed(t *testing.T) {
	mock := &mockBedrockClient{}
	p := newBedrockProviderWithClient("", 256, mock)

	vecs, err := p.Embed(context.Background(), []string{"a", "abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 1}, {3, 1}}, vecs)

	require.Len(t, mock.calls, 2)
	assert.Equal(t, defaultBedrockModel, mock.model)
	assert.Equal(t, 256, mock.calls[0].Dimensions)
	assert.True(t, mock.calls[0].Normalize)
	assert.Equal(t, "bedrock", p.Name())
	assert.Equal(t, 256, p.Dimensions())
}

func TestBedrockEmptyInput(t *testing.T) {
	mock := &mockBedrockClient{}
	vecs, err := newBedrockProviderWithClient("", 0, mock).Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Empty(t, mock.calls)
}

type mockAPIError struct{ code, message string }

func (e *mockAPIError) Error() string                 { return e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func TestBedrockErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"throttled", &mockAPIError{code: "ThrottlingException", message: "slow down"}, "throttled"},
		{"denied", &mockAPIError{code: "AccessDeniedException", message: "no"}, "AccessDeniedException"},
		{"other api", &mockAPIError{code: "ValidationException", message: "bad input"}, "bad input"},
		{"transport", errors.New("dial tcp: refused"), "refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newBedrockProviderWithClient("m", 0, &mockBedrockClient{err: tt.err})
			_, err := p.Embed(context.Background(), []string{"x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
