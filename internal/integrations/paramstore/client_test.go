package paramstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr("secret"), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), " p ")
	require.NoError(t, err)
	require.Equal(t, "secret", v)
	require.Equal(t, "p", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_NotFound(t *testing.T) {
	api := &fakeAPI{getErr: &types.ParameterNotFound{Message: strPtr("nope")}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

// ---------------------------------------------------------------------------
// SecretSource
// ---------------------------------------------------------------------------

type mapGetter map[string]string

func (m mapGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return v, nil
}

func TestNewSecretSource_Validates(t *testing.T) {
	_, err := NewSecretSource(nil, "/relay")
	require.Error(t, err)

	_, err = NewSecretSource(mapGetter{}, " / ")
	require.Error(t, err)
}

func TestSecret_RawAndJSONValues(t *testing.T) {
	src, err := NewSecretSource(mapGetter{
		"/relay/line-channel-secret": "  raw-secret ",
		"/relay/gemini-api-key":      `{"token":"json-token"}`,
	}, "/relay/")
	require.NoError(t, err)

	v, err := src.Secret(context.Background(), "line-channel-secret")
	require.NoError(t, err)
	require.Equal(t, "raw-secret", v)

	v, err = src.Secret(context.Background(), "/gemini-api-key")
	require.NoError(t, err)
	require.Equal(t, "json-token", v)
}

func TestSecret_Errors(t *testing.T) {
	src, err := NewSecretSource(mapGetter{
		"/relay/empty-token": `{"other":"x"}`,
		"/relay/broken":      `{"token`,
		"/relay/blank":       "   ",
	}, "/relay")
	require.NoError(t, err)

	_, err = src.Secret(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = src.Secret(context.Background(), "empty-token")
	require.ErrorContains(t, err, "empty token")

	_, err = src.Secret(context.Background(), "broken")
	require.ErrorContains(t, err, "unmarshal")

	_, err = src.Secret(context.Background(), "blank")
	require.ErrorContains(t, err, "is empty")

	_, err = src.Secret(context.Background(), " ")
	require.Error(t, err)
}
